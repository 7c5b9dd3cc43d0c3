package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mondaySlot(start, end string) Slot {
	return Slot{ID: slotMon, ProviderID: providerA, DayOfWeek: time.Monday, Start: tod(start), End: tod(end), Active: true}
}

func TestComputeCapacity_OneBooking(t *testing.T) {
	res := ComputeCapacity(mondaySlot("08:00", "12:00"), monday, []Range{rng("09:00", "10:00")})

	assert.Equal(t, 240, res.TotalMinutes)
	assert.Equal(t, 60, res.BookedMinutes)
	assert.Equal(t, 180, res.AvailableMinutes)
	assert.True(t, res.HasCapacity)
	assert.Equal(t, []Gap{
		{Start: tod("08:00"), End: tod("09:00"), DurationMinutes: 60},
		{Start: tod("10:00"), End: tod("12:00"), DurationMinutes: 120},
	}, res.Gaps)
}

func TestComputeCapacity_Conservation(t *testing.T) {
	cases := map[string][]Range{
		"empty":         nil,
		"adjacent":      {rng("08:00", "09:00"), rng("09:00", "10:00")},
		"overlapping":   {rng("08:30", "10:00"), rng("09:00", "11:00")},
		"spills over":   {rng("07:00", "08:15"), rng("11:45", "13:00")},
		"outside":       {rng("06:00", "07:00"), rng("12:00", "13:00")},
		"fully booked":  {rng("07:00", "13:00")},
		"many small":    {rng("08:05", "08:10"), rng("08:20", "08:25"), rng("11:00", "11:01")},
		"duplicates":    {rng("09:00", "10:00"), rng("09:00", "10:00")},
		"nested inside": {rng("09:00", "11:00"), rng("09:30", "10:00")},
	}
	for name, occupied := range cases {
		t.Run(name, func(t *testing.T) {
			res := ComputeCapacity(mondaySlot("08:00", "12:00"), monday, occupied)
			assert.Equal(t, res.TotalMinutes, res.BookedMinutes+res.AvailableMinutes)
			sum := 0
			for i, g := range res.Gaps {
				sum += g.DurationMinutes
				if i > 0 {
					assert.Less(t, res.Gaps[i-1].End, g.Start, "gaps must be disjoint and ascending")
				}
			}
			assert.Equal(t, res.AvailableMinutes, sum)
			assert.Equal(t, res.AvailableMinutes > 0, res.HasCapacity)
		})
	}
}

func TestComputeCapacity_FullyBooked(t *testing.T) {
	res := ComputeCapacity(mondaySlot("08:00", "12:00"), monday, []Range{rng("07:00", "13:00")})
	assert.Equal(t, 240, res.BookedMinutes)
	assert.Equal(t, 0, res.AvailableMinutes)
	assert.False(t, res.HasCapacity)
	assert.NotNil(t, res.Gaps)
	assert.Empty(t, res.Gaps)
}

func TestComputeCapacity_WeekdayMismatchIsZero(t *testing.T) {
	res := ComputeCapacity(mondaySlot("08:00", "12:00"), monday.AddDays(1), nil)
	assert.Equal(t, 0, res.TotalMinutes)
	assert.Equal(t, 0, res.AvailableMinutes)
	assert.False(t, res.HasCapacity)
	assert.Empty(t, res.Gaps)
}

func TestComputeCapacity_InactiveIsZero(t *testing.T) {
	slot := mondaySlot("08:00", "12:00")
	slot.Active = false
	res := ComputeCapacity(slot, monday, nil)
	assert.Equal(t, 0, res.TotalMinutes)
	assert.False(t, res.HasCapacity)
}

func TestEngine_GetCapacity(t *testing.T) {
	store := newMemStore()
	slot := store.addSlot(slotMon, providerA, time.Monday, "08:00", "12:00")
	store.addBooking(providerA, monday, "09:00", "10:00")
	store.addBooking(providerB, monday, "10:00", "12:00")
	store.addBooking(providerA, monday.AddDays(7), "08:00", "12:00")
	e := newTestEngine(store)

	res, err := e.GetCapacity(context.Background(), slot, monday)
	require.NoError(t, err)
	assert.Equal(t, 60, res.BookedMinutes)
	assert.Equal(t, 180, res.AvailableMinutes)
	assert.Len(t, res.Gaps, 2)
}

func TestEngine_GetCapacity_IgnoresCancelled(t *testing.T) {
	store := newMemStore()
	slot := store.addSlot(slotMon, providerA, time.Monday, "08:00", "12:00")
	id := store.addBooking(providerA, monday, "09:00", "10:00")
	store.bookings[id].Status = StatusCancelled

	res, err := newTestEngine(store).GetCapacity(context.Background(), slot, monday)
	require.NoError(t, err)
	assert.Equal(t, 240, res.AvailableMinutes)
}
