package scheduling

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

// -- Mock Repositories --

type mockSlotRepo struct {
	slots map[uuid.UUID]*TimeSlot
	tick  time.Duration
}

func newMockSlotRepo() *mockSlotRepo {
	return &mockSlotRepo{slots: make(map[uuid.UUID]*TimeSlot)}
}

func (m *mockSlotRepo) stamp() time.Time {
	m.tick += time.Second
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(m.tick)
}

func (m *mockSlotRepo) Create(_ context.Context, s *TimeSlot) error {
	s.ID = uuid.New()
	s.CreatedAt = m.stamp()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

func (m *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	s, ok := m.slots[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSlotRepo) Update(_ context.Context, s *TimeSlot) error {
	if _, ok := m.slots[s.ID]; !ok {
		return engine.ErrNotFound
	}
	s.UpdatedAt = m.stamp()
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

func (m *mockSlotRepo) sorted(keep func(*TimeSlot) bool) []*TimeSlot {
	var out []*TimeSlot
	for _, s := range m.slots {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (m *mockSlotRepo) ListByProvider(_ context.Context, providerID uuid.UUID, activeOnly bool, limit, offset int) ([]*TimeSlot, int, error) {
	all := m.sorted(func(s *TimeSlot) bool {
		return s.ProviderID == providerID && (s.IsActive || !activeOnly)
	})
	return page(all, limit, offset), len(all), nil
}

func (m *mockSlotRepo) FindWindow(_ context.Context, providerID uuid.UUID, day int, start, end engine.TimeOfDay) (*TimeSlot, error) {
	for _, s := range m.sorted(func(s *TimeSlot) bool { return s.ProviderID == providerID }) {
		if s.DayOfWeek == day && s.StartTime == start && s.EndTime == end {
			return s, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (m *mockSlotRepo) DeactivateExcept(_ context.Context, providerID uuid.UUID, keep []uuid.UUID) (int, error) {
	kept := make(map[uuid.UUID]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	n := 0
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.IsActive && !kept[s.ID] {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *mockSlotRepo) ListActiveSlots(_ context.Context, providerID uuid.UUID, weekday time.Weekday) ([]engine.Slot, error) {
	var out []engine.Slot
	for _, s := range m.sorted(func(s *TimeSlot) bool {
		return s.ProviderID == providerID && s.IsActive && s.DayOfWeek == int(weekday)
	}) {
		out = append(out, s.ToEngine())
	}
	return out, nil
}

func (m *mockSlotRepo) GetSlots(_ context.Context, ids []uuid.UUID) ([]engine.Slot, error) {
	var out []engine.Slot
	for _, id := range ids {
		if s, ok := m.slots[id]; ok {
			out = append(out, s.ToEngine())
		}
	}
	return out, nil
}

type mockAssignmentRepo struct {
	items map[uuid.UUID]*engine.Booking
}

func newMockAssignmentRepo() *mockAssignmentRepo {
	return &mockAssignmentRepo{items: make(map[uuid.UUID]*engine.Booking)}
}

func cloneBooking(b *engine.Booking) *engine.Booking {
	cp := *b
	cp.Segments = append([]engine.Segment(nil), b.Segments...)
	return &cp
}

func (m *mockAssignmentRepo) ListActiveOccupancy(_ context.Context, providerID uuid.UUID, date engine.Date) ([]engine.Occupancy, error) {
	var out []engine.Occupancy
	for _, b := range m.items {
		if b.ProviderID != providerID || !b.Status.Active() {
			continue
		}
		for _, s := range b.Segments {
			if s.Date.Equal(date) {
				out = append(out, engine.Occupancy{BookingID: b.ID, Range: s.Range()})
			}
		}
	}
	return out, nil
}

func (m *mockAssignmentRepo) CreateBooking(_ context.Context, b *engine.Booking) error {
	m.items[b.ID] = cloneBooking(b)
	return nil
}

func (m *mockAssignmentRepo) GetBooking(_ context.Context, id uuid.UUID) (*engine.Booking, error) {
	b, ok := m.items[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (m *mockAssignmentRepo) update(b *engine.Booking, expected int) error {
	cur, ok := m.items[b.ID]
	if !ok {
		return engine.ErrNotFound
	}
	if cur.Version != expected {
		return engine.ErrConcurrencyConflict
	}
	b.Version = expected + 1
	m.items[b.ID] = cloneBooking(b)
	return nil
}

func (m *mockAssignmentRepo) UpdateSchedule(_ context.Context, b *engine.Booking, expected int) error {
	return m.update(b, expected)
}

func (m *mockAssignmentRepo) UpdateStatus(_ context.Context, b *engine.Booking, expected int) error {
	return m.update(b, expected)
}

func (m *mockAssignmentRepo) List(_ context.Context, f AssignmentFilter, limit, offset int) ([]*engine.Booking, int, error) {
	var all []*engine.Booking
	for _, b := range m.items {
		if f.ProviderID != nil && b.ProviderID != *f.ProviderID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		span := engine.Bounding(b.Segments)
		if !f.From.IsZero() && span.EndDate.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && span.StartDate.After(f.To) {
			continue
		}
		all = append(all, cloneBooking(b))
	}
	sort.Slice(all, func(i, j int) bool {
		si, sj := engine.Bounding(all[i].Segments), engine.Bounding(all[j].Segments)
		if !si.StartDate.Equal(sj.StartDate) {
			return si.StartDate.Before(sj.StartDate)
		}
		return si.Start < sj.Start
	})
	return page(all, limit, offset), len(all), nil
}

type mockExtensionRepo struct {
	items map[uuid.UUID]*engine.ExtensionRequest
}

func newMockExtensionRepo() *mockExtensionRepo {
	return &mockExtensionRepo{items: make(map[uuid.UUID]*engine.ExtensionRequest)}
}

func (m *mockExtensionRepo) CreateExtension(_ context.Context, x *engine.ExtensionRequest) error {
	for _, e := range m.items {
		if e.AssignmentID == x.AssignmentID && e.Status == engine.ExtensionPending {
			return engine.ErrExtensionPending
		}
	}
	cp := *x
	m.items[x.ID] = &cp
	return nil
}

func (m *mockExtensionRepo) GetExtension(_ context.Context, id uuid.UUID) (*engine.ExtensionRequest, error) {
	x, ok := m.items[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *x
	return &cp, nil
}

func (m *mockExtensionRepo) PendingExtension(_ context.Context, assignmentID uuid.UUID) (*engine.ExtensionRequest, error) {
	for _, x := range m.items {
		if x.AssignmentID == assignmentID && x.Status == engine.ExtensionPending {
			cp := *x
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockExtensionRepo) DecideExtension(_ context.Context, x *engine.ExtensionRequest) error {
	cur, ok := m.items[x.ID]
	if !ok || cur.Status != engine.ExtensionPending {
		return engine.ErrConcurrencyConflict
	}
	cp := *x
	m.items[x.ID] = &cp
	return nil
}

func (m *mockExtensionRepo) ListByAssignment(_ context.Context, assignmentID uuid.UUID) ([]*engine.ExtensionRequest, error) {
	var out []*engine.ExtensionRequest
	for _, x := range m.items {
		if x.AssignmentID == assignmentID {
			cp := *x
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// mockLocker serializes callers and can fail the first few acquisitions the
// way a lock timeout would.
type mockLocker struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (l *mockLocker) WithProviderDays(ctx context.Context, _ uuid.UUID, _ []engine.Date, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failures > 0 {
		l.failures--
		return engine.ErrConcurrencyConflict
	}
	return fn(ctx)
}

type mockCache struct {
	data map[string]map[string][]byte
	gens map[string]int64
	hits int

	beforeSet func(key string)
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string]map[string][]byte), gens: make(map[string]int64)}
}

func (m *mockCache) Generation(_ context.Context, key string) (int64, error) {
	return m.gens[key], nil
}

func (m *mockCache) Get(_ context.Context, key, field string, dst interface{}) (bool, error) {
	raw, ok := m.data[key][field]
	if !ok {
		return false, nil
	}
	m.hits++
	return true, json.Unmarshal(raw, dst)
}

func (m *mockCache) Set(_ context.Context, key, field string, gen int64, v interface{}) error {
	if m.beforeSet != nil {
		m.beforeSet(key)
	}
	if m.gens[key] != gen {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.data[key] == nil {
		m.data[key] = make(map[string][]byte)
	}
	m.data[key][field] = raw
	return nil
}

func (m *mockCache) Invalidate(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
		m.gens[k]++
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// -- Fixtures --

var (
	providerA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	providerB = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	monday    = engine.MustParseDate("2024-01-01")
	fixedNow  = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
)

type testEnv struct {
	slots       *mockSlotRepo
	assignments *mockAssignmentRepo
	extensions  *mockExtensionRepo
	locker      *mockLocker
	cache       *mockCache
	svc         *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		slots:       newMockSlotRepo(),
		assignments: newMockAssignmentRepo(),
		extensions:  newMockExtensionRepo(),
		locker:      &mockLocker{},
		cache:       newMockCache(),
	}
	eng := engine.NewEngine(env.slots, env.assignments, env.extensions, env.locker,
		engine.WithClock(func() time.Time { return fixedNow }))
	env.svc = NewService(env.slots, env.assignments, env.extensions, eng, WithCache(env.cache), WithRetryAttempts(3))
	return env
}

func newTestService() *Service { return newTestEnv().svc }

func tod(s string) engine.TimeOfDay { return engine.MustParseTimeOfDay(s) }

func todPtr(s string) *engine.TimeOfDay {
	t := tod(s)
	return &t
}

func intPtr(v int) *int { return &v }

// addSlot stores an active slot for provider on day directly in the repo.
func (env *testEnv) addSlot(provider uuid.UUID, day time.Weekday, start, end string) *TimeSlot {
	s := &TimeSlot{ProviderID: provider, DayOfWeek: int(day), StartTime: tod(start), EndTime: tod(end), IsActive: true}
	_ = env.slots.Create(context.Background(), s)
	return s
}

func segmentsReq(date engine.Date, ranges ...string) ScheduleRequest {
	var segs []engine.Segment
	for i := 0; i+1 < len(ranges); i += 2 {
		segs = append(segs, engine.Segment{Date: date, Start: tod(ranges[i]), End: tod(ranges[i+1])})
	}
	return ScheduleRequest{Segments: segs}
}
