package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Gap is a free sub-interval of a slot on a date.
type Gap struct {
	Start           TimeOfDay `json:"start_time"`
	End             TimeOfDay `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

func (g Gap) Range() Range { return Range{Start: g.Start, End: g.End} }

// CapacityResult describes how much of a slot is still bookable on a date.
type CapacityResult struct {
	SlotID           uuid.UUID `json:"slot_id"`
	Date             Date      `json:"date"`
	TotalMinutes     int       `json:"total_minutes"`
	BookedMinutes    int       `json:"booked_minutes"`
	AvailableMinutes int       `json:"available_minutes"`
	HasCapacity      bool      `json:"has_capacity"`
	Gaps             []Gap     `json:"gaps"`
}

// ComputeCapacity subtracts occupied ranges from the slot window on date.
// A date on another weekday or an inactive slot yields the all-zero result.
func ComputeCapacity(slot Slot, date Date, occupied []Range) CapacityResult {
	res := CapacityResult{SlotID: slot.ID, Date: date, Gaps: []Gap{}}
	if !slot.Active || date.Weekday() != slot.DayOfWeek || !slot.Window().Valid() {
		return res
	}
	window := slot.Window()
	merged := MergeRanges(occupied)

	res.TotalMinutes = window.Minutes()
	for _, r := range merged {
		if c, ok := r.Clip(window); ok {
			res.BookedMinutes += c.Minutes()
		}
	}
	res.AvailableMinutes = res.TotalMinutes - res.BookedMinutes
	res.HasCapacity = res.AvailableMinutes > 0
	for _, g := range Gaps(window, merged) {
		res.Gaps = append(res.Gaps, Gap{Start: g.Start, End: g.End, DurationMinutes: g.Minutes()})
	}
	return res
}

// GetCapacity loads the provider's active bookings on date and computes the
// slot's remaining capacity.
func (e *Engine) GetCapacity(ctx context.Context, slot Slot, date Date) (*CapacityResult, error) {
	if date.IsZero() {
		return nil, invalidf("date is required")
	}
	if !slot.Active || date.Weekday() != slot.DayOfWeek {
		res := ComputeCapacity(slot, date, nil)
		return &res, nil
	}
	occ, err := e.bookings.ListActiveOccupancy(ctx, slot.ProviderID, date)
	if err != nil {
		return nil, err
	}
	res := ComputeCapacity(slot, date, occupancyRanges(occ, nil))
	return &res, nil
}

func occupancyRanges(occ []Occupancy, exclude *uuid.UUID) []Range {
	out := make([]Range, 0, len(occ))
	for _, o := range occ {
		if exclude != nil && o.BookingID == *exclude {
			continue
		}
		out = append(out, o.Range)
	}
	return out
}
