package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/metrics"
)

// RequestExtension files a pending request for more minutes at the end of an
// open assignment. Only one request may be pending per assignment.
func (e *Engine) RequestExtension(ctx context.Context, assignmentID uuid.UUID, minutes int, reason string) (*ExtensionRequest, error) {
	if minutes <= 0 {
		return nil, invalidf("requested_minutes must be positive")
	}
	current, err := e.bookings.GetBooking(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !current.Status.Open() {
		return nil, fmt.Errorf("%w: cannot extend an assignment that is %s", ErrInvalidTransition, current.Status)
	}

	x := &ExtensionRequest{
		ID:               uuid.New(),
		AssignmentID:     assignmentID,
		RequestedMinutes: minutes,
		Reason:           strings.TrimSpace(reason),
		Status:           ExtensionPending,
		CreatedAt:        e.now(),
	}
	err = e.locker.WithProviderDays(ctx, current.ProviderID, current.Dates(), func(ctx context.Context) error {
		pending, err := e.extensions.PendingExtension(ctx, assignmentID)
		if err != nil {
			return err
		}
		if pending != nil {
			return ErrExtensionPending
		}
		return e.extensions.CreateExtension(ctx, x)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("assignment_id", assignmentID.String()).
		Int("minutes", minutes).
		Msg("extension requested")
	return x, nil
}

// ApproveExtension grows the assignment's last segment by the requested
// minutes once [end, end+N) is free of other bookings. The assignment must
// still be open, as for RequestExtension. On conflict nothing
// changes and the request stays pending.
func (e *Engine) ApproveExtension(ctx context.Context, extensionID uuid.UUID) (*ExtensionRequest, *Booking, error) {
	x, err := e.extensions.GetExtension(ctx, extensionID)
	if err != nil {
		return nil, nil, err
	}
	current, err := e.bookings.GetBooking(ctx, x.AssignmentID)
	if err != nil {
		return nil, nil, err
	}

	var out *Booking
	err = e.locker.WithProviderDays(ctx, current.ProviderID, current.Dates(), func(ctx context.Context) error {
		pending, err := e.pendingExtension(ctx, extensionID)
		if err != nil {
			return err
		}
		x = pending
		b, err := e.lockedBooking(ctx, x.AssignmentID, current.Version)
		if err != nil {
			return err
		}
		if !b.Status.Open() {
			return fmt.Errorf("%w: cannot extend an assignment that is %s", ErrInvalidTransition, b.Status)
		}
		idx := lastSegmentIndex(b.Segments)
		if idx < 0 {
			return invalidf("assignment %s has no scheduled time", b.ID)
		}
		last := b.Segments[idx]
		newEnd := last.End.Add(x.RequestedMinutes)
		if newEnd > MinutesPerDay {
			return invalidf("extension of %d minutes would run past midnight on %s", x.RequestedMinutes, last.Date)
		}
		if err := e.checkSegments(ctx, b.ProviderID, []Segment{{Date: last.Date, Start: last.End, End: newEnd}}, &b.ID); err != nil {
			return err
		}

		expected := b.Version
		b.Segments[idx].End = newEnd
		b.ApprovedExtensionMinutes += x.RequestedMinutes
		b.UpdatedAt = e.now()
		if err := e.bookings.UpdateSchedule(ctx, b, expected); err != nil {
			return err
		}
		decided := e.now()
		x.Status = ExtensionApproved
		x.DecidedAt = &decided
		if err := e.extensions.DecideExtension(ctx, x); err != nil {
			return err
		}
		out = b
		return nil
	})
	metrics.ObserveExtension(string(ExtensionApproved), Outcome(err))
	e.recordCommit("extend", current.ProviderID, err)
	if err != nil {
		return nil, nil, err
	}
	return x, out, nil
}

// RejectExtension closes a pending request without touching the schedule.
func (e *Engine) RejectExtension(ctx context.Context, extensionID uuid.UUID) (*ExtensionRequest, error) {
	x, err := e.pendingExtension(ctx, extensionID)
	if err != nil {
		metrics.ObserveExtension(string(ExtensionRejected), Outcome(err))
		return nil, err
	}
	decided := e.now()
	x.Status = ExtensionRejected
	x.DecidedAt = &decided
	err = e.extensions.DecideExtension(ctx, x)
	metrics.ObserveExtension(string(ExtensionRejected), Outcome(err))
	if err != nil {
		return nil, err
	}
	return x, nil
}

func (e *Engine) pendingExtension(ctx context.Context, id uuid.UUID) (*ExtensionRequest, error) {
	x, err := e.extensions.GetExtension(ctx, id)
	if err != nil {
		return nil, err
	}
	if x.Status != ExtensionPending {
		return nil, fmt.Errorf("%w: extension request is already %s", ErrInvalidTransition, x.Status)
	}
	return x, nil
}
