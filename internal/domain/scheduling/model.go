package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

// TimeSlot maps to the time_slot table.
type TimeSlot struct {
	ID         uuid.UUID        `db:"id" json:"id"`
	ProviderID uuid.UUID        `db:"provider_id" json:"provider_id"`
	DayOfWeek  int              `db:"day_of_week" json:"day_of_week"`
	StartTime  engine.TimeOfDay `db:"start_time" json:"start_time"`
	EndTime    engine.TimeOfDay `db:"end_time" json:"end_time"`
	IsActive   bool             `db:"is_active" json:"is_active"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// ToEngine converts the row into the engine's slot value.
func (s *TimeSlot) ToEngine() engine.Slot {
	return engine.Slot{
		ID:         s.ID,
		ProviderID: s.ProviderID,
		DayOfWeek:  time.Weekday(s.DayOfWeek),
		Start:      s.StartTime,
		End:        s.EndTime,
		Active:     s.IsActive,
	}
}

// SlotInput is the body of slot create and update requests. Nil fields are
// left unchanged on update.
type SlotInput struct {
	DayOfWeek *int              `json:"day_of_week"`
	StartTime *engine.TimeOfDay `json:"start_time"`
	EndTime   *engine.TimeOfDay `json:"end_time"`
	IsActive  *bool             `json:"is_active"`
}

// AssignmentView is the API representation of a committed assignment.
// OccupiedStart/OccupiedEnd are the collapsed range and stay null for
// gapped or multi-day assignments; Bounding is always filled for display.
type AssignmentView struct {
	*engine.Booking
	ScheduledDate    engine.Date            `json:"scheduled_date"`
	ScheduledEndDate engine.Date            `json:"scheduled_end_date"`
	OccupiedStart    *engine.TimeOfDay      `json:"occupied_start"`
	OccupiedEnd      *engine.TimeOfDay      `json:"occupied_end"`
	Bounding         *engine.Span           `json:"bounding"`
	SpanDays         int                    `json:"span_days"`
	Duration         engine.DurationSummary `json:"duration"`
}

func NewAssignmentView(b *engine.Booking) *AssignmentView {
	v := &AssignmentView{Booking: b, Duration: b.Duration()}
	if r := engine.CollapseSegments(b.Segments); r != nil {
		start, end := r.Start, r.End
		v.OccupiedStart, v.OccupiedEnd = &start, &end
	}
	if span := engine.Bounding(b.Segments); span != nil {
		v.Bounding = span
		v.ScheduledDate = span.StartDate
		v.ScheduledEndDate = span.EndDate
		v.SpanDays = span.EndDate.DaysSince(span.StartDate) + 1
	}
	return v
}

// PlanView adds both combined representations to an allocation plan.
type PlanView struct {
	*engine.AllocationPlan
	Collapsed *engine.Range `json:"collapsed"`
	Bounding  *engine.Span  `json:"bounding"`
}

func NewPlanView(p *engine.AllocationPlan) *PlanView {
	segs := p.Segments()
	return &PlanView{AllocationPlan: p, Collapsed: engine.CollapseSegments(segs), Bounding: engine.Bounding(segs)}
}

type AllocationRequest struct {
	StartDate engine.Date `json:"start_date"`
	Minutes   int         `json:"minutes"`
	MaxDays   int         `json:"max_days"`
}

// OverlapCheckRequest checks either an explicit range or a set of slots.
type OverlapCheckRequest struct {
	Date             engine.Date       `json:"date"`
	StartTime        *engine.TimeOfDay `json:"start_time"`
	EndTime          *engine.TimeOfDay `json:"end_time"`
	SlotIDs          []uuid.UUID       `json:"slot_ids"`
	ExcludeBookingID *uuid.UUID        `json:"exclude_booking_id"`
}

type OverlapCheckResult struct {
	Overlaps bool                      `json:"overlaps"`
	Conflict *engine.TimeConflictError `json:"conflict,omitempty"`
}

// ScheduleRequest describes where an assignment's time goes, in exactly one
// of three ways: explicit segments, whole slots on a date, or an automatic
// plan of Minutes starting at StartDate.
type ScheduleRequest struct {
	Segments         []engine.Segment `json:"segments"`
	Date             engine.Date      `json:"date"`
	SlotIDs          []uuid.UUID      `json:"slot_ids"`
	StartDate        engine.Date      `json:"start_date"`
	Minutes          int              `json:"minutes"`
	MaxDays          int              `json:"max_days"`
	AllowPartial     bool             `json:"allow_partial"`
	AllocatedMinutes int              `json:"allocated_duration_minutes"`
}

func (r *ScheduleRequest) mode() (string, error) {
	modes := 0
	var m string
	if len(r.Segments) > 0 {
		modes++
		m = "segments"
	}
	if len(r.SlotIDs) > 0 {
		modes++
		m = "slots"
	}
	if r.Minutes > 0 {
		modes++
		m = "plan"
	}
	switch modes {
	case 0:
		return "", fmt.Errorf("%w: one of segments, slot_ids or minutes is required", engine.ErrInvalidInput)
	case 1:
		return m, nil
	default:
		return "", fmt.Errorf("%w: segments, slot_ids and minutes are mutually exclusive", engine.ErrInvalidInput)
	}
}

type CreateAssignmentRequest struct {
	ProviderID uuid.UUID  `json:"provider_id"`
	IssueID    *uuid.UUID `json:"issue_id"`
	ScheduleRequest
}

type TransitionRequest struct {
	Event string `json:"event"`
}

type ExtensionInput struct {
	RequestedMinutes int    `json:"requested_minutes"`
	Reason           string `json:"reason"`
}

// AssignmentFilter narrows assignment listings. Zero values match all.
type AssignmentFilter struct {
	ProviderID *uuid.UUID
	Status     engine.Status
	From       engine.Date
	To         engine.Date
}

// ErrInsufficientCapacity is returned when an automatic plan falls short and
// partial bookings were not allowed.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// InsufficientCapacityError carries the plan that fell short.
type InsufficientCapacityError struct {
	Plan *PlanView
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: %d of %d minutes available within %d days",
		e.Plan.AccumulatedMinutes, e.Plan.RequiredMinutes, e.Plan.DaysProcessed)
}

func (e *InsufficientCapacityError) Unwrap() error { return ErrInsufficientCapacity }
