package scheduling

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// firstConflict returns the earliest-starting occupancy intersecting r,
// ignoring exclude.
func firstConflict(occ []Occupancy, r Range, exclude *uuid.UUID) *Occupancy {
	var hit *Occupancy
	for i := range occ {
		o := &occ[i]
		if exclude != nil && o.BookingID == *exclude {
			continue
		}
		if !o.Overlaps(r) {
			continue
		}
		if hit == nil || o.Start < hit.Start {
			hit = o
		}
	}
	return hit
}

// FindConflict returns the first active booking of the provider on date whose
// occupied range intersects r, or nil. exclude may be nil.
func (e *Engine) FindConflict(ctx context.Context, providerID uuid.UUID, date Date, r Range, exclude *uuid.UUID) (*TimeConflictError, error) {
	if date.IsZero() {
		return nil, invalidf("date is required")
	}
	if !r.Valid() {
		return nil, invalidf("end_time %s must be after start_time %s", r.End, r.Start)
	}
	occ, err := e.bookings.ListActiveOccupancy(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	if hit := firstConflict(occ, r, exclude); hit != nil {
		return &TimeConflictError{BookingID: hit.BookingID.String(), Date: date, Start: hit.Start, End: hit.End}, nil
	}
	return nil, nil
}

// HasOverlap reports whether [r.Start, r.End) intersects any active booking
// of the provider on date other than exclude.
func (e *Engine) HasOverlap(ctx context.Context, providerID uuid.UUID, date Date, r Range, exclude *uuid.UUID) (bool, error) {
	c, err := e.FindConflict(ctx, providerID, date, r, exclude)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// HasMultiSlotOverlap checks every named slot's window on date individually.
func (e *Engine) HasMultiSlotOverlap(ctx context.Context, providerID uuid.UUID, date Date, slotIDs []uuid.UUID, exclude *uuid.UUID) (bool, error) {
	c, err := e.FindMultiSlotConflict(ctx, providerID, date, slotIDs, exclude)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// FindMultiSlotConflict is HasMultiSlotOverlap returning the conflicting window.
func (e *Engine) FindMultiSlotConflict(ctx context.Context, providerID uuid.UUID, date Date, slotIDs []uuid.UUID, exclude *uuid.UUID) (*TimeConflictError, error) {
	slots, err := e.resolveSlots(ctx, providerID, date, slotIDs)
	if err != nil {
		return nil, err
	}
	occ, err := e.bookings.ListActiveOccupancy(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	for _, s := range slots {
		if hit := firstConflict(occ, s.Window(), exclude); hit != nil {
			return &TimeConflictError{BookingID: hit.BookingID.String(), Date: date, Start: hit.Start, End: hit.End}, nil
		}
	}
	return nil, nil
}

// resolveSlots loads slotIDs and checks that each is an active slot of the
// provider on date's weekday. The result is ordered by start time.
func (e *Engine) resolveSlots(ctx context.Context, providerID uuid.UUID, date Date, slotIDs []uuid.UUID) ([]Slot, error) {
	if date.IsZero() {
		return nil, invalidf("date is required")
	}
	if len(slotIDs) == 0 {
		return nil, invalidf("at least one slot_id is required")
	}
	ids := dedupeIDs(slotIDs)
	found, err := e.slots.GetSlots(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Slot, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	out := make([]Slot, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, invalidf("slot %s not found", id)
		}
		if s.ProviderID != providerID {
			return nil, invalidf("slot %s belongs to another provider", id)
		}
		if !s.Active {
			return nil, invalidf("slot %s is inactive", id)
		}
		if s.DayOfWeek != date.Weekday() {
			return nil, invalidf("slot %s is on %s, date %s is a %s", id, s.DayOfWeek, date, date.Weekday())
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
