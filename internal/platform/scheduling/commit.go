package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/metrics"
)

// CandidateFromSlots builds a candidate occupying the named slots' windows on
// date. Overlapping slot windows are trimmed so the segments stay disjoint.
func (e *Engine) CandidateFromSlots(ctx context.Context, providerID uuid.UUID, date Date, slotIDs []uuid.UUID) (Candidate, error) {
	slots, err := e.resolveSlots(ctx, providerID, date, slotIDs)
	if err != nil {
		return Candidate{}, err
	}
	var segs []Segment
	var cursor TimeOfDay
	for _, s := range slots {
		start := s.Start
		if len(segs) > 0 && start < cursor {
			start = cursor
		}
		if start >= s.End {
			continue
		}
		id := s.ID
		segs = append(segs, Segment{SlotID: &id, Date: date, Start: start, End: s.End})
		cursor = s.End
	}
	return Candidate{ProviderID: providerID, Segments: segs}, nil
}

// CandidateFromPlan turns an allocation plan into a candidate. Insufficient
// plans are accepted; the caller decides whether a partial booking is wanted.
func CandidateFromPlan(plan *AllocationPlan) (Candidate, error) {
	if plan == nil || len(plan.Entries) == 0 {
		return Candidate{}, invalidf("allocation plan has no entries")
	}
	return Candidate{
		ProviderID:       plan.ProviderID,
		Segments:         plan.Segments(),
		AllocatedMinutes: plan.AccumulatedMinutes,
	}, nil
}

// CommitBooking validates the candidate and, while holding every affected
// (provider, date), re-checks each segment for conflicts and stores it.
func (e *Engine) CommitBooking(ctx context.Context, c Candidate) (*Booking, error) {
	if c.ProviderID == uuid.Nil {
		return nil, invalidf("provider_id is required")
	}
	segs, err := normalizeSegments(c.Segments)
	if err != nil {
		return nil, err
	}
	if err := e.checkSlotMembership(ctx, c.ProviderID, segs); err != nil {
		return nil, err
	}
	if c.AllocatedMinutes < 0 {
		return nil, invalidf("allocated minutes must not be negative")
	}
	allocated := c.AllocatedMinutes
	if allocated == 0 {
		allocated = totalSegmentMinutes(segs)
	}

	now := e.now()
	b := &Booking{
		ID:                       uuid.New(),
		ProviderID:               c.ProviderID,
		IssueID:                  c.IssueID,
		Status:                   StatusAssigned,
		Segments:                 segs,
		AllocatedDurationMinutes: allocated,
		Version:                  1,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	err = e.locker.WithProviderDays(ctx, c.ProviderID, segmentDates(segs), func(ctx context.Context) error {
		if err := e.checkSegments(ctx, c.ProviderID, segs, nil); err != nil {
			return err
		}
		return e.bookings.CreateBooking(ctx, b)
	})
	e.recordCommit("create", b.ProviderID, err)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RescheduleBooking replaces an open booking's segments. The booking's own
// current ranges are excluded from the conflict check. allocated <= 0 derives
// the allocation from the new segments less the approved extension minutes
// they already carry.
func (e *Engine) RescheduleBooking(ctx context.Context, id uuid.UUID, segments []Segment, allocated int) (*Booking, error) {
	segs, err := normalizeSegments(segments)
	if err != nil {
		return nil, err
	}
	current, err := e.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Open() {
		return nil, fmt.Errorf("%w: cannot reschedule an assignment that is %s", ErrInvalidTransition, current.Status)
	}
	if err := e.checkSlotMembership(ctx, current.ProviderID, segs); err != nil {
		return nil, err
	}

	dates := segmentDates(append(append([]Segment(nil), current.Segments...), segs...))
	var out *Booking
	err = e.locker.WithProviderDays(ctx, current.ProviderID, dates, func(ctx context.Context) error {
		b, err := e.lockedBooking(ctx, id, current.Version)
		if err != nil {
			return err
		}
		if err := e.checkSegments(ctx, b.ProviderID, segs, &b.ID); err != nil {
			return err
		}
		expected := b.Version
		b.Segments = segs
		b.AllocatedDurationMinutes = allocated
		if allocated <= 0 {
			b.AllocatedDurationMinutes = allocationExcludingExtension(segs, b.ApprovedExtensionMinutes)
		}
		b.UpdatedAt = e.now()
		if err := e.bookings.UpdateSchedule(ctx, b, expected); err != nil {
			return err
		}
		out = b
		return nil
	})
	e.recordCommit("reschedule", current.ProviderID, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelBooking ends the booking's occupancy. Completed bookings cannot be
// cancelled.
func (e *Engine) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	current, err := e.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	var out *Booking
	err = e.locker.WithProviderDays(ctx, current.ProviderID, current.Dates(), func(ctx context.Context) error {
		b, err := e.lockedBooking(ctx, id, current.Version)
		if err != nil {
			return err
		}
		expected := b.Version
		if err := b.Apply(EventCancel, e.now()); err != nil {
			return err
		}
		if err := e.bookings.UpdateStatus(ctx, b, expected); err != nil {
			return err
		}
		out = b
		return nil
	})
	metrics.ObserveTransition(string(EventCancel), Outcome(err))
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("assignment_id", id.String()).Msg("assignment cancelled")
	return out, nil
}

// TransitionAssignment applies a lifecycle event with an optimistic version
// check. Cancellation goes through CancelBooking so it serializes with other
// writers of the same days.
func (e *Engine) TransitionAssignment(ctx context.Context, id uuid.UUID, ev Event) (*Booking, error) {
	if !knownEvents[ev] {
		return nil, invalidf("unknown event %q", ev)
	}
	if ev == EventCancel {
		return e.CancelBooking(ctx, id)
	}
	b, err := e.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := b.Version
	if err := b.Apply(ev, e.now()); err != nil {
		metrics.ObserveTransition(string(ev), Outcome(err))
		return nil, err
	}
	if err := e.bookings.UpdateStatus(ctx, b, expected); err != nil {
		metrics.ObserveTransition(string(ev), Outcome(err))
		return nil, err
	}
	metrics.ObserveTransition(string(ev), "ok")
	e.logger.Info().
		Str("assignment_id", id.String()).
		Str("event", string(ev)).
		Str("status", string(b.Status)).
		Msg("assignment transitioned")
	return b, nil
}

// lockedBooking re-reads a booking inside the lock and fails when it changed
// since it was first read.
func (e *Engine) lockedBooking(ctx context.Context, id uuid.UUID, version int) (*Booking, error) {
	b, err := e.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Version != version {
		return nil, ErrConcurrencyConflict
	}
	return b, nil
}

// checkSegments runs the overlap check for every segment against the
// provider's active bookings on its date.
func (e *Engine) checkSegments(ctx context.Context, providerID uuid.UUID, segs []Segment, exclude *uuid.UUID) error {
	byDate := make(map[Date][]Occupancy)
	for _, s := range segs {
		occ, ok := byDate[s.Date]
		if !ok {
			var err error
			occ, err = e.bookings.ListActiveOccupancy(ctx, providerID, s.Date)
			if err != nil {
				return err
			}
			byDate[s.Date] = occ
		}
		if hit := firstConflict(occ, s.Range(), exclude); hit != nil {
			return &TimeConflictError{BookingID: hit.BookingID.String(), Date: s.Date, Start: hit.Start, End: hit.End}
		}
	}
	return nil
}

// checkSlotMembership verifies that segments naming a slot lie inside that
// active slot of the provider on the right weekday.
func (e *Engine) checkSlotMembership(ctx context.Context, providerID uuid.UUID, segs []Segment) error {
	ids := slotIDsOf(segs)
	if len(ids) == 0 {
		return nil
	}
	found, err := e.slots.GetSlots(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]Slot, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	for _, seg := range segs {
		if seg.SlotID == nil {
			continue
		}
		s, ok := byID[*seg.SlotID]
		switch {
		case !ok:
			return invalidf("slot %s not found", *seg.SlotID)
		case s.ProviderID != providerID:
			return invalidf("slot %s belongs to another provider", s.ID)
		case !s.Active:
			return invalidf("slot %s is inactive", s.ID)
		case s.DayOfWeek != seg.Date.Weekday():
			return invalidf("slot %s is on %s, date %s is a %s", s.ID, s.DayOfWeek, seg.Date, seg.Date.Weekday())
		case !s.Window().Contains(seg.Range()):
			return invalidf("segment %s-%s is outside slot %s window %s-%s", seg.Start, seg.End, s.ID, s.Start, s.End)
		}
	}
	return nil
}

func (e *Engine) recordCommit(op string, providerID uuid.UUID, err error) {
	metrics.ObserveCommit(op, Outcome(err))
	var conflict *TimeConflictError
	switch {
	case err == nil:
		e.logger.Info().Str("op", op).Str("provider_id", providerID.String()).Msg("booking committed")
	case errors.As(err, &conflict):
		e.logger.Warn().
			Str("op", op).
			Str("provider_id", providerID.String()).
			Str("conflict_booking_id", conflict.BookingID).
			Str("date", conflict.Date.String()).
			Msg("booking rejected: time conflict")
	case errors.Is(err, ErrConcurrencyConflict):
		e.logger.Debug().Str("op", op).Str("provider_id", providerID.String()).Msg("booking hit concurrent writer")
	}
}

// allocationExcludingExtension is the planned share of segs once approved
// extension minutes are taken out, so allocated plus extension equals the
// occupied total.
func allocationExcludingExtension(segs []Segment, extension int) int {
	n := totalSegmentMinutes(segs) - extension
	if n < 0 {
		return 0
	}
	return n
}
