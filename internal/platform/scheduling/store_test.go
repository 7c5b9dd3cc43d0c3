package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	providerA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	providerB = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	slotMon   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	monday    = MustParseDate("2024-01-01")
)

func tod(s string) TimeOfDay { return MustParseTimeOfDay(s) }

func rng(start, end string) Range { return Range{Start: tod(start), End: tod(end)} }

// memStore is an in-memory implementation of every store the engine needs.
// A single mutex stands in for per (provider, date) locks.
type memStore struct {
	mu         sync.Mutex
	lockMu     sync.Mutex
	slots      map[uuid.UUID]Slot
	bookings   map[uuid.UUID]*Booking
	extensions map[uuid.UUID]*ExtensionRequest
	lockCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		slots:      make(map[uuid.UUID]Slot),
		bookings:   make(map[uuid.UUID]*Booking),
		extensions: make(map[uuid.UUID]*ExtensionRequest),
	}
}

func newTestEngine(s *memStore) *Engine {
	clock := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	return NewEngine(s, s, s, s, WithClock(func() time.Time { return clock }))
}

func (m *memStore) addSlot(id, provider uuid.UUID, day time.Weekday, start, end string) Slot {
	s := Slot{ID: id, ProviderID: provider, DayOfWeek: day, Start: tod(start), End: tod(end), Active: true}
	m.mu.Lock()
	m.slots[id] = s
	m.mu.Unlock()
	return s
}

func (m *memStore) addBooking(provider uuid.UUID, date Date, start, end string) uuid.UUID {
	b := &Booking{
		ID:         uuid.New(),
		ProviderID: provider,
		Status:     StatusAssigned,
		Segments:   []Segment{{Date: date, Start: tod(start), End: tod(end)}},
		Version:    1,
	}
	b.AllocatedDurationMinutes = b.Segments[0].Minutes()
	m.mu.Lock()
	m.bookings[b.ID] = b
	m.mu.Unlock()
	return b.ID
}

func copyBooking(b *Booking) *Booking {
	c := *b
	c.Segments = append([]Segment(nil), b.Segments...)
	return &c
}

func (m *memStore) ListActiveSlots(_ context.Context, providerID uuid.UUID, weekday time.Weekday) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.DayOfWeek == weekday && s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (m *memStore) GetSlots(_ context.Context, ids []uuid.UUID) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, id := range ids {
		if s, ok := m.slots[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveOccupancy(_ context.Context, providerID uuid.UUID, date Date) ([]Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Occupancy
	for _, b := range m.bookings {
		if b.ProviderID != providerID || !b.Status.Active() {
			continue
		}
		for _, s := range b.Segments {
			if s.Date.Equal(date) {
				out = append(out, Occupancy{BookingID: b.ID, Range: s.Range()})
			}
		}
	}
	return out, nil
}

func (m *memStore) CreateBooking(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = copyBooking(b)
	return nil
}

func (m *memStore) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBooking(b), nil
}

func (m *memStore) update(b *Booking, expected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[b.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrConcurrencyConflict
	}
	b.Version = expected + 1
	m.bookings[b.ID] = copyBooking(b)
	return nil
}

func (m *memStore) UpdateSchedule(_ context.Context, b *Booking, expected int) error {
	return m.update(b, expected)
}

func (m *memStore) UpdateStatus(_ context.Context, b *Booking, expected int) error {
	return m.update(b, expected)
}

func (m *memStore) CreateExtension(_ context.Context, x *ExtensionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *x
	m.extensions[x.ID] = &c
	return nil
}

func (m *memStore) GetExtension(_ context.Context, id uuid.UUID) (*ExtensionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.extensions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *x
	return &c, nil
}

func (m *memStore) PendingExtension(_ context.Context, assignmentID uuid.UUID) (*ExtensionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.extensions {
		if x.AssignmentID == assignmentID && x.Status == ExtensionPending {
			c := *x
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) DecideExtension(_ context.Context, x *ExtensionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.extensions[x.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != ExtensionPending {
		return ErrConcurrencyConflict
	}
	c := *x
	m.extensions[x.ID] = &c
	return nil
}

func (m *memStore) WithProviderDays(ctx context.Context, _ uuid.UUID, _ []Date, fn func(ctx context.Context) error) error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	m.lockCalls++
	return fn(ctx)
}
