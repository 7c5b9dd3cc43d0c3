package scheduling

import (
	"context"

	"github.com/google/uuid"

	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

type SlotRepository interface {
	engine.SlotStore
	Create(ctx context.Context, s *TimeSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	Update(ctx context.Context, s *TimeSlot) error
	ListByProvider(ctx context.Context, providerID uuid.UUID, activeOnly bool, limit, offset int) ([]*TimeSlot, int, error)
	// FindWindow returns the provider's slot with exactly this window, or ErrNotFound.
	FindWindow(ctx context.Context, providerID uuid.UUID, day int, start, end engine.TimeOfDay) (*TimeSlot, error)
	// DeactivateExcept deactivates the provider's active slots not listed in keep.
	DeactivateExcept(ctx context.Context, providerID uuid.UUID, keep []uuid.UUID) (int, error)
}

type AssignmentRepository interface {
	engine.BookingStore
	List(ctx context.Context, filter AssignmentFilter, limit, offset int) ([]*engine.Booking, int, error)
}

type ExtensionRepository interface {
	engine.ExtensionStore
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*engine.ExtensionRequest, error)
}
