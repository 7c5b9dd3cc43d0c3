package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/db"
	"github.com/rmanoop25/Facility360-sub001/internal/platform/metrics"
	"github.com/rmanoop25/Facility360-sub001/internal/platform/report"
	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

// CapacityCache stores capacity results in hashes keyed per provider and
// date, one field per slot. Set drops the value when the key was
// invalidated after gen was read.
type CapacityCache interface {
	Generation(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key, field string, dst interface{}) (bool, error)
	Set(ctx context.Context, key, field string, gen int64, v interface{}) error
	Invalidate(ctx context.Context, keys ...string) error
}

type Service struct {
	slots       SlotRepository
	assignments AssignmentRepository
	extensions  ExtensionRepository
	engine      *engine.Engine
	cache       CapacityCache
	logger      zerolog.Logger
	attempts    int
}

type ServiceOption func(*Service)

func WithCache(c CapacityCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l.With().Str("component", "scheduling_service").Logger() }
}

// WithRetryAttempts bounds how often a write is attempted when it loses a
// race with another writer.
func WithRetryAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func NewService(slots SlotRepository, assignments AssignmentRepository, extensions ExtensionRepository, eng *engine.Engine, opts ...ServiceOption) *Service {
	s := &Service{
		slots:       slots,
		assignments: assignments,
		extensions:  extensions,
		engine:      eng,
		logger:      zerolog.Nop(),
		attempts:    3,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// -- Slots --

func (s *Service) CreateSlot(ctx context.Context, providerID uuid.UUID, in SlotInput) (*TimeSlot, error) {
	if in.DayOfWeek == nil || in.StartTime == nil || in.EndTime == nil {
		return nil, fmt.Errorf("%w: day_of_week, start_time and end_time are required", engine.ErrInvalidInput)
	}
	sl := &TimeSlot{ProviderID: providerID, IsActive: true}
	applySlotInput(sl, in)
	if err := sl.ToEngine().Validate(); err != nil {
		return nil, err
	}
	if err := s.slots.Create(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return s.slots.GetByID(ctx, id)
}

func (s *Service) ListSlots(ctx context.Context, providerID uuid.UUID, activeOnly bool, limit, offset int) ([]*TimeSlot, int, error) {
	return s.slots.ListByProvider(ctx, providerID, activeOnly, limit, offset)
}

// UpdateSlot changes a slot's window or active flag. Cached capacity is keyed
// by the slot's UpdatedAt, so edits never serve stale results.
func (s *Service) UpdateSlot(ctx context.Context, id uuid.UUID, in SlotInput) (*TimeSlot, error) {
	sl, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	applySlotInput(sl, in)
	if err := sl.ToEngine().Validate(); err != nil {
		return nil, err
	}
	if err := s.slots.Update(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

// DeactivateSlot hides a slot from allocation while keeping its history.
func (s *Service) DeactivateSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	inactive := false
	return s.UpdateSlot(ctx, id, SlotInput{IsActive: &inactive})
}

func applySlotInput(sl *TimeSlot, in SlotInput) {
	if in.DayOfWeek != nil {
		sl.DayOfWeek = *in.DayOfWeek
	}
	if in.StartTime != nil {
		sl.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		sl.EndTime = *in.EndTime
	}
	if in.IsActive != nil {
		sl.IsActive = *in.IsActive
	}
}

// -- Capacity & planning --

func capacityKey(ctx context.Context, providerID uuid.UUID, date engine.Date) string {
	return fmt.Sprintf("capacity:%s:%s:%s", db.FacilityFromContext(ctx), providerID, date)
}

func capacityField(sl *TimeSlot) string {
	return fmt.Sprintf("%s:%d", sl.ID, sl.UpdatedAt.UnixNano())
}

func (s *Service) GetCapacity(ctx context.Context, slotID uuid.UUID, date engine.Date) (*engine.CapacityResult, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", engine.ErrInvalidInput)
	}
	sl, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	key, field := capacityKey(ctx, sl.ProviderID, date), capacityField(sl)

	var gen int64
	if s.cache != nil {
		gen, err = s.cache.Generation(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("capacity cache generation read failed")
		}
		var cached engine.CapacityResult
		hit, err := s.cache.Get(ctx, key, field, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("capacity cache read failed")
		}
		if hit {
			return &cached, nil
		}
	}

	res, err := s.engine.GetCapacity(ctx, sl.ToEngine(), date)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, field, gen, res); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("capacity cache write failed")
		}
	}
	return res, nil
}

func (s *Service) Allocate(ctx context.Context, providerID uuid.UUID, req AllocationRequest) (*PlanView, error) {
	if err := s.checkMaxDays(req.MaxDays); err != nil {
		return nil, err
	}
	plan, err := s.engine.AllocateAcrossDays(ctx, providerID, req.StartDate, req.Minutes, req.MaxDays)
	if err != nil {
		return nil, err
	}
	return NewPlanView(plan), nil
}

func (s *Service) CheckOverlap(ctx context.Context, providerID uuid.UUID, req OverlapCheckRequest) (*OverlapCheckResult, error) {
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", engine.ErrInvalidInput)
	}
	var conflict *engine.TimeConflictError
	var err error
	if len(req.SlotIDs) > 0 {
		if req.StartTime != nil || req.EndTime != nil {
			return nil, fmt.Errorf("%w: give either slot_ids or start_time/end_time", engine.ErrInvalidInput)
		}
		conflict, err = s.engine.FindMultiSlotConflict(ctx, providerID, req.Date, req.SlotIDs, req.ExcludeBookingID)
	} else {
		if req.StartTime == nil || req.EndTime == nil {
			return nil, fmt.Errorf("%w: start_time and end_time are required", engine.ErrInvalidInput)
		}
		r := engine.Range{Start: *req.StartTime, End: *req.EndTime}
		if !r.Valid() {
			return nil, fmt.Errorf("%w: end_time must be after start_time", engine.ErrInvalidInput)
		}
		conflict, err = s.engine.FindConflict(ctx, providerID, req.Date, r, req.ExcludeBookingID)
	}
	if err != nil {
		return nil, err
	}
	return &OverlapCheckResult{Overlaps: conflict != nil, Conflict: conflict}, nil
}

// candidate resolves a schedule request into segments for providerID. In plan
// mode the plan is computed against current occupancy, so a conflict at
// commit time means another writer got there first.
func (s *Service) candidate(ctx context.Context, providerID uuid.UUID, req *ScheduleRequest) (engine.Candidate, string, error) {
	mode, err := req.mode()
	if err != nil {
		return engine.Candidate{}, "", err
	}
	var c engine.Candidate
	switch mode {
	case "segments":
		c = engine.Candidate{ProviderID: providerID, Segments: req.Segments}
	case "slots":
		if req.Date.IsZero() {
			return engine.Candidate{}, mode, fmt.Errorf("%w: date is required with slot_ids", engine.ErrInvalidInput)
		}
		c, err = s.engine.CandidateFromSlots(ctx, providerID, req.Date, req.SlotIDs)
		if err != nil {
			return engine.Candidate{}, mode, err
		}
	case "plan":
		if err := s.checkMaxDays(req.MaxDays); err != nil {
			return engine.Candidate{}, mode, err
		}
		plan, err := s.engine.AllocateAcrossDays(ctx, providerID, req.StartDate, req.Minutes, req.MaxDays)
		if err != nil {
			return engine.Candidate{}, mode, err
		}
		if len(plan.Entries) == 0 || (!plan.IsSufficient && !req.AllowPartial) {
			return engine.Candidate{}, mode, &InsufficientCapacityError{Plan: NewPlanView(plan)}
		}
		c, err = engine.CandidateFromPlan(plan)
		if err != nil {
			return engine.Candidate{}, mode, err
		}
	}
	if req.AllocatedMinutes < 0 {
		return engine.Candidate{}, mode, fmt.Errorf("%w: allocated_duration_minutes must not be negative", engine.ErrInvalidInput)
	}
	if req.AllocatedMinutes > 0 {
		c.AllocatedMinutes = req.AllocatedMinutes
	}
	return c, mode, nil
}

// checkMaxDays bounds a caller-supplied day window by the engine's cap.
func (s *Service) checkMaxDays(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: max_days must not be negative", engine.ErrInvalidInput)
	}
	if limit := s.engine.MaxDays(); n > limit {
		return fmt.Errorf("%w: max_days must not exceed %d", engine.ErrInvalidInput, limit)
	}
	return nil
}

// replanOnConflict turns a plan-mode time conflict into a retryable error.
func replanOnConflict(mode string, err error) error {
	if mode == "plan" && errors.Is(err, engine.ErrTimeConflict) {
		return fmt.Errorf("%w: planned time was taken: %v", engine.ErrConcurrencyConflict, err)
	}
	return err
}

// -- Assignments --

func (s *Service) CreateAssignment(ctx context.Context, req CreateAssignmentRequest) (*AssignmentView, error) {
	if req.ProviderID == uuid.Nil {
		return nil, fmt.Errorf("%w: provider_id is required", engine.ErrInvalidInput)
	}
	var b *engine.Booking
	err := s.withRetry(ctx, "create", func() error {
		c, mode, err := s.candidate(ctx, req.ProviderID, &req.ScheduleRequest)
		if err != nil {
			return err
		}
		c.IssueID = req.IssueID
		b, err = s.engine.CommitBooking(ctx, c)
		return replanOnConflict(mode, err)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, b.ProviderID, b.Dates())
	return NewAssignmentView(b), nil
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*AssignmentView, error) {
	b, err := s.assignments.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewAssignmentView(b), nil
}

func (s *Service) ListAssignments(ctx context.Context, f AssignmentFilter, limit, offset int) ([]*AssignmentView, int, error) {
	items, total, err := s.assignments.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]*AssignmentView, 0, len(items))
	for _, b := range items {
		views = append(views, NewAssignmentView(b))
	}
	return views, total, nil
}

// RescheduleAssignment moves an open assignment. Plan mode treats the
// assignment's current time as occupied. Without an explicit
// allocated_duration_minutes the engine keeps approved extension minutes
// out of the new allocation.
func (s *Service) RescheduleAssignment(ctx context.Context, id uuid.UUID, req ScheduleRequest) (*AssignmentView, error) {
	var before, after *engine.Booking
	err := s.withRetry(ctx, "reschedule", func() error {
		current, err := s.assignments.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		c, mode, err := s.candidate(ctx, current.ProviderID, &req)
		if err != nil {
			return err
		}
		before = current
		after, err = s.engine.RescheduleBooking(ctx, id, c.Segments, req.AllocatedMinutes)
		return replanOnConflict(mode, err)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, after.ProviderID, append(before.Dates(), after.Dates()...))
	return NewAssignmentView(after), nil
}

func (s *Service) Transition(ctx context.Context, id uuid.UUID, event string) (*AssignmentView, error) {
	ev, err := engine.ParseEvent(event)
	if err != nil {
		return nil, err
	}
	var b *engine.Booking
	err = s.withRetry(ctx, "transition", func() error {
		var err error
		b, err = s.engine.TransitionAssignment(ctx, id, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ev == engine.EventCancel {
		s.invalidate(ctx, b.ProviderID, b.Dates())
	}
	return NewAssignmentView(b), nil
}

func (s *Service) Duration(ctx context.Context, id uuid.UUID) (engine.DurationSummary, error) {
	b, err := s.assignments.GetBooking(ctx, id)
	if err != nil {
		return engine.DurationSummary{}, err
	}
	return b.Duration(), nil
}

// -- Extensions --

func (s *Service) RequestExtension(ctx context.Context, assignmentID uuid.UUID, in ExtensionInput) (*engine.ExtensionRequest, error) {
	var x *engine.ExtensionRequest
	err := s.withRetry(ctx, "extension_request", func() error {
		var err error
		x, err = s.engine.RequestExtension(ctx, assignmentID, in.RequestedMinutes, in.Reason)
		return err
	})
	metrics.ObserveExtension("request", engine.Outcome(err))
	return x, err
}

func (s *Service) ApproveExtension(ctx context.Context, id uuid.UUID) (*engine.ExtensionRequest, *AssignmentView, error) {
	var x *engine.ExtensionRequest
	var b *engine.Booking
	err := s.withRetry(ctx, "extension_approve", func() error {
		var err error
		x, b, err = s.engine.ApproveExtension(ctx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.invalidate(ctx, b.ProviderID, b.Dates())
	return x, NewAssignmentView(b), nil
}

func (s *Service) RejectExtension(ctx context.Context, id uuid.UUID) (*engine.ExtensionRequest, error) {
	var x *engine.ExtensionRequest
	err := s.withRetry(ctx, "extension_reject", func() error {
		var err error
		x, err = s.engine.RejectExtension(ctx, id)
		return err
	})
	return x, err
}

func (s *Service) ListExtensions(ctx context.Context, assignmentID uuid.UUID) ([]*engine.ExtensionRequest, error) {
	if _, err := s.assignments.GetBooking(ctx, assignmentID); err != nil {
		return nil, err
	}
	return s.extensions.ListByAssignment(ctx, assignmentID)
}

// -- Reports --

const reportPageSize = 200

// OvertimeReport returns one row per non-cancelled assignment matching f.
func (s *Service) OvertimeReport(ctx context.Context, f AssignmentFilter) ([]report.OvertimeRow, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: to must not be before from", engine.ErrInvalidInput)
	}
	var rows []report.OvertimeRow
	for offset := 0; ; offset += reportPageSize {
		items, total, err := s.assignments.List(ctx, f, reportPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, b := range items {
			if b.Status == engine.StatusCancelled {
				continue
			}
			rows = append(rows, overtimeRow(b))
		}
		if len(items) == 0 || offset+len(items) >= total {
			return rows, nil
		}
	}
}

func overtimeRow(b *engine.Booking) report.OvertimeRow {
	v := NewAssignmentView(b)
	return report.OvertimeRow{
		AssignmentID:     b.ID.String(),
		ProviderID:       b.ProviderID.String(),
		ScheduledDate:    v.ScheduledDate.String(),
		ScheduledEndDate: v.ScheduledEndDate.String(),
		Status:           string(b.Status),
		Allocated:        v.Duration.AllocatedDurationMinutes,
		Extension:        v.Duration.ApprovedExtensionMinutes,
		Actual:           v.Duration.ActualMinutes,
		Overtime:         v.Duration.OvertimeMinutes,
	}
}

// -- helpers --

// withRetry reruns fn while it fails with ErrConcurrencyConflict, up to the
// configured number of attempts.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, engine.ErrConcurrencyConflict) || attempt >= s.attempts {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		metrics.IncRetry()
		s.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("retrying after concurrent write")
	}
}

func (s *Service) invalidate(ctx context.Context, providerID uuid.UUID, dates []engine.Date) {
	if s.cache == nil || len(dates) == 0 {
		return
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, capacityKey(ctx, providerID, d))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("capacity cache invalidation failed")
	}
}
