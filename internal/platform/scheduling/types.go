package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Slot is a recurring weekly availability window of a provider.
type Slot struct {
	ID         uuid.UUID    `json:"id"`
	ProviderID uuid.UUID    `json:"provider_id"`
	DayOfWeek  time.Weekday `json:"day_of_week"`
	Start      TimeOfDay    `json:"start_time"`
	End        TimeOfDay    `json:"end_time"`
	Active     bool         `json:"is_active"`
}

// Window returns the slot's wall-clock range.
func (s Slot) Window() Range { return Range{Start: s.Start, End: s.End} }

// Validate checks the slot's weekday and window.
func (s Slot) Validate() error {
	if s.ProviderID == uuid.Nil {
		return invalidf("provider_id is required")
	}
	if s.DayOfWeek < time.Sunday || s.DayOfWeek > time.Saturday {
		return invalidf("day_of_week must be between 0 and 6")
	}
	if !s.Window().Valid() {
		return invalidf("slot end_time %s must be after start_time %s", s.End, s.Start)
	}
	return nil
}

// Segment is one contiguous piece of a booking on one date. SlotID is
// bookkeeping only; the range is what conflicts are checked against.
type Segment struct {
	SlotID *uuid.UUID `json:"slot_id,omitempty"`
	Date   Date       `json:"date"`
	Start  TimeOfDay  `json:"start_time"`
	End    TimeOfDay  `json:"end_time"`
}

func (s Segment) Range() Range { return Range{Start: s.Start, End: s.End} }
func (s Segment) Minutes() int { return s.Range().Minutes() }

// Occupancy is an active booking's occupied range on a single date.
type Occupancy struct {
	BookingID uuid.UUID
	Range
}

// Booking is a committed assignment of a provider's time.
type Booking struct {
	ID                       uuid.UUID  `json:"id"`
	ProviderID               uuid.UUID  `json:"provider_id"`
	IssueID                  *uuid.UUID `json:"issue_id,omitempty"`
	Status                   Status     `json:"status"`
	Segments                 []Segment  `json:"segments"`
	AllocatedDurationMinutes int        `json:"allocated_duration_minutes"`
	ApprovedExtensionMinutes int        `json:"approved_extension_minutes"`
	StartedAt                *time.Time `json:"started_at,omitempty"`
	HeldAt                   *time.Time `json:"held_at,omitempty"`
	ResumedAt                *time.Time `json:"resumed_at,omitempty"`
	FinishedAt               *time.Time `json:"finished_at,omitempty"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
	CancelledAt              *time.Time `json:"cancelled_at,omitempty"`
	Version                  int        `json:"version"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// Dates returns the distinct dates the booking occupies, ascending.
func (b *Booking) Dates() []Date { return segmentDates(b.Segments) }

// Candidate is a booking that has not been committed yet.
type Candidate struct {
	ProviderID uuid.UUID
	IssueID    *uuid.UUID
	Segments   []Segment
	// AllocatedMinutes defaults to the summed segment length when zero.
	AllocatedMinutes int
}

// ExtensionStatus is the decision state of an extension request.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

// ExtensionRequest asks for more time at the end of an assignment.
type ExtensionRequest struct {
	ID               uuid.UUID       `json:"id"`
	AssignmentID     uuid.UUID       `json:"assignment_id"`
	RequestedMinutes int             `json:"requested_minutes"`
	Reason           string          `json:"reason,omitempty"`
	Status           ExtensionStatus `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	DecidedAt        *time.Time      `json:"decided_at,omitempty"`
}

// SlotStore reads weekly availability.
type SlotStore interface {
	// ListActiveSlots returns active slots for the weekday ordered by start time.
	ListActiveSlots(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]Slot, error)
	// GetSlots returns the slots that exist among ids, in any order.
	GetSlots(ctx context.Context, ids []uuid.UUID) ([]Slot, error)
}

// BookingStore persists bookings. Update methods must fail with
// ErrConcurrencyConflict when the stored version differs from expectedVersion
// and must increment b.Version on success.
type BookingStore interface {
	ListActiveOccupancy(ctx context.Context, providerID uuid.UUID, date Date) ([]Occupancy, error)
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateSchedule(ctx context.Context, b *Booking, expectedVersion int) error
	UpdateStatus(ctx context.Context, b *Booking, expectedVersion int) error
}

// ExtensionStore persists extension requests.
type ExtensionStore interface {
	CreateExtension(ctx context.Context, x *ExtensionRequest) error
	GetExtension(ctx context.Context, id uuid.UUID) (*ExtensionRequest, error)
	PendingExtension(ctx context.Context, assignmentID uuid.UUID) (*ExtensionRequest, error)
	DecideExtension(ctx context.Context, x *ExtensionRequest) error
}

// Locker runs fn with every (provider, date) pair held exclusively. Stores
// called with the ctx passed to fn must take part in the same transaction.
type Locker interface {
	WithProviderDays(ctx context.Context, providerID uuid.UUID, dates []Date, fn func(ctx context.Context) error) error
}
