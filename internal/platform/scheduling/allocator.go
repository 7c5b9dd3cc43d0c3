package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/metrics"
)

// DefaultMaxDays bounds how many calendar days the allocator will walk.
const DefaultMaxDays = 90

// PlanEntry is one pick of the allocator.
type PlanEntry struct {
	SlotID  uuid.UUID `json:"slot_id"`
	Date    Date      `json:"date"`
	Start   TimeOfDay `json:"start_time"`
	End     TimeOfDay `json:"end_time"`
	Minutes int       `json:"minutes"`
}

// AllocationPlan is the greedy result for one request. It is never persisted.
type AllocationPlan struct {
	ProviderID         uuid.UUID   `json:"provider_id"`
	StartDate          Date        `json:"start_date"`
	RequiredMinutes    int         `json:"required_minutes"`
	Entries            []PlanEntry `json:"entries"`
	AccumulatedMinutes int         `json:"accumulated_minutes"`
	IsSufficient       bool        `json:"is_sufficient"`
	Shortfall          int         `json:"shortfall"`
	SpanDays           int         `json:"span_days"`
	DaysProcessed      int         `json:"days_processed"`
}

// AllocateAcrossDays walks forward from start, day by day and slot by slot,
// taking free capacity until minutes are covered or maxDays have been
// examined. maxDays <= 0 uses the engine default and values above it are
// rejected. An insufficient plan is a normal result, not an error.
func (e *Engine) AllocateAcrossDays(ctx context.Context, providerID uuid.UUID, start Date, minutes, maxDays int) (*AllocationPlan, error) {
	if providerID == uuid.Nil {
		return nil, invalidf("provider_id is required")
	}
	if start.IsZero() {
		return nil, invalidf("start_date is required")
	}
	if minutes <= 0 {
		return nil, invalidf("minutes must be positive")
	}
	if maxDays > e.maxDays {
		return nil, invalidf("max_days must not exceed %d", e.maxDays)
	}
	if maxDays <= 0 {
		maxDays = e.maxDays
	}

	plan := &AllocationPlan{
		ProviderID:      providerID,
		StartDate:       start,
		RequiredMinutes: minutes,
		Entries:         []PlanEntry{},
	}
	slotsByDay := make(map[time.Weekday][]Slot, 7)
	current := start

	for plan.AccumulatedMinutes < minutes && plan.DaysProcessed < maxDays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		weekday := current.Weekday()
		slots, ok := slotsByDay[weekday]
		if !ok {
			var err error
			slots, err = e.slots.ListActiveSlots(ctx, providerID, weekday)
			if err != nil {
				return nil, err
			}
			slotsByDay[weekday] = slots
		}
		if len(slots) > 0 {
			if err := e.allocateDay(ctx, plan, slots, current); err != nil {
				return nil, err
			}
		}
		current = current.AddDays(1)
		plan.DaysProcessed++
	}

	plan.IsSufficient = plan.AccumulatedMinutes >= minutes
	plan.Shortfall = max(0, minutes-plan.AccumulatedMinutes)
	if n := len(plan.Entries); n > 0 {
		plan.SpanDays = plan.Entries[n-1].Date.DaysSince(start) + 1
	}

	metrics.ObserveAllocation(plan.IsSufficient, plan.SpanDays)
	e.logger.Debug().
		Str("provider_id", providerID.String()).
		Str("start_date", start.String()).
		Int("required_minutes", minutes).
		Int("accumulated_minutes", plan.AccumulatedMinutes).
		Int("entries", len(plan.Entries)).
		Int("span_days", plan.SpanDays).
		Bool("sufficient", plan.IsSufficient).
		Msg("allocation planned")
	return plan, nil
}

// allocateDay consumes capacity from the day's slots in start order. Picks
// made earlier on the same day count as occupied so overlapping slots are
// never handed out twice.
func (e *Engine) allocateDay(ctx context.Context, plan *AllocationPlan, slots []Slot, date Date) error {
	occ, err := e.bookings.ListActiveOccupancy(ctx, plan.ProviderID, date)
	if err != nil {
		return err
	}
	occupied := occupancyRanges(occ, nil)

	for _, slot := range slots {
		c := ComputeCapacity(slot, date, occupied)
		if c.AvailableMinutes <= 0 {
			continue
		}
		take := min(c.AvailableMinutes, plan.RequiredMinutes-plan.AccumulatedMinutes)
		for _, r := range pickGaps(c.Gaps, take) {
			plan.Entries = append(plan.Entries, PlanEntry{
				SlotID:  slot.ID,
				Date:    date,
				Start:   r.Start,
				End:     r.End,
				Minutes: r.Minutes(),
			})
			plan.AccumulatedMinutes += r.Minutes()
			occupied = append(occupied, r)
		}
		if plan.AccumulatedMinutes >= plan.RequiredMinutes {
			return nil
		}
	}
	return nil
}

// pickGaps uses the first gap able to hold take whole. When none can, gaps
// are consumed earliest first until take is covered.
func pickGaps(gaps []Gap, take int) []Range {
	for _, g := range gaps {
		if g.DurationMinutes >= take {
			return []Range{{Start: g.Start, End: g.Start.Add(take)}}
		}
	}
	var out []Range
	remaining := take
	for _, g := range gaps {
		if remaining <= 0 {
			break
		}
		n := min(g.DurationMinutes, remaining)
		out = append(out, Range{Start: g.Start, End: g.Start.Add(n)})
		remaining -= n
	}
	return out
}
