package scheduling

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

// -- Slots --

func TestService_CreateSlot(t *testing.T) {
	svc := newTestService()
	day := 1
	sl, err := svc.CreateSlot(context.Background(), providerA, SlotInput{
		DayOfWeek: &day, StartTime: todPtr("08:00"), EndTime: todPtr("12:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sl.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if !sl.IsActive {
		t.Error("expected new slot to be active")
	}
}

func TestService_CreateSlot_Validation(t *testing.T) {
	svc := newTestService()
	day, badDay := 1, 7
	cases := map[string]SlotInput{
		"missing times": {DayOfWeek: &day},
		"bad day":       {DayOfWeek: &badDay, StartTime: todPtr("08:00"), EndTime: todPtr("09:00")},
		"empty window":  {DayOfWeek: &day, StartTime: todPtr("09:00"), EndTime: todPtr("09:00")},
		"reversed":      {DayOfWeek: &day, StartTime: todPtr("10:00"), EndTime: todPtr("09:00")},
	}
	for name, in := range cases {
		if _, err := svc.CreateSlot(context.Background(), providerA, in); !errors.Is(err, engine.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestService_UpdateAndDeactivateSlot(t *testing.T) {
	env := newTestEnv()
	sl := env.addSlot(providerA, time.Monday, "08:00", "12:00")

	updated, err := env.svc.UpdateSlot(context.Background(), sl.ID, SlotInput{EndTime: todPtr("13:00")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.EndTime != tod("13:00") || updated.StartTime != tod("08:00") {
		t.Errorf("unexpected window %s-%s", updated.StartTime, updated.EndTime)
	}

	if _, err := env.svc.UpdateSlot(context.Background(), sl.ID, SlotInput{EndTime: todPtr("07:00")}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	if _, err := env.svc.DeactivateSlot(context.Background(), sl.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active, total, _ := env.svc.ListSlots(context.Background(), providerA, true, 20, 0)
	if total != 0 || len(active) != 0 {
		t.Errorf("expected no active slots, got %d", total)
	}
	all, total, _ := env.svc.ListSlots(context.Background(), providerA, false, 20, 0)
	if total != 1 || all[0].IsActive {
		t.Errorf("expected one inactive slot, got %d", total)
	}
}

func TestService_UpdateSlot_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.UpdateSlot(context.Background(), uuid.New(), SlotInput{}); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Capacity --

func TestService_GetCapacity_CachesUntilWrite(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sl := env.addSlot(providerA, time.Monday, "08:00", "12:00")

	if _, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := env.svc.GetCapacity(ctx, sl.ID, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AvailableMinutes != 180 || len(res.Gaps) != 2 {
		t.Errorf("expected 180 available in 2 gaps, got %d in %d", res.AvailableMinutes, len(res.Gaps))
	}

	if _, err := env.svc.GetCapacity(ctx, sl.ID, monday); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.cache.hits != 1 {
		t.Errorf("expected second read to hit the cache, hits=%d", env.cache.hits)
	}

	if _, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "10:00", "11:00"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.cache.data[capacityKey(ctx, providerA, monday)]; ok {
		t.Error("expected commit to invalidate the day's cache entry")
	}
	res, _ = env.svc.GetCapacity(ctx, sl.ID, monday)
	if res.AvailableMinutes != 120 {
		t.Errorf("expected 120 available after second booking, got %d", res.AvailableMinutes)
	}
}

func TestService_GetCapacity_SlotEditChangesCacheField(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sl := env.addSlot(providerA, time.Monday, "08:00", "12:00")

	if _, err := env.svc.GetCapacity(ctx, sl.ID, monday); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.UpdateSlot(ctx, sl.ID, SlotInput{EndTime: todPtr("10:00")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := env.svc.GetCapacity(ctx, sl.ID, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalMinutes != 120 {
		t.Errorf("expected 120 total after edit, got %d", res.TotalMinutes)
	}
	if env.cache.hits != 0 {
		t.Errorf("expected no cache hits, got %d", env.cache.hits)
	}
}

func TestService_GetCapacity_InvalidatedDuringComputeIsNotCached(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sl := env.addSlot(providerA, time.Monday, "08:00", "12:00")
	env.cache.beforeSet = func(key string) {
		env.cache.beforeSet = nil
		_ = env.cache.Invalidate(ctx, key)
	}

	if _, err := env.svc.GetCapacity(ctx, sl.ID, monday); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.cache.data[capacityKey(ctx, providerA, monday)]; ok {
		t.Error("expected a result computed before the invalidation to be discarded")
	}

	if _, err := env.svc.GetCapacity(ctx, sl.ID, monday); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.cache.data[capacityKey(ctx, providerA, monday)]; !ok {
		t.Error("expected the next read to populate the cache")
	}
}

func TestService_GetCapacity_RequiresDate(t *testing.T) {
	env := newTestEnv()
	sl := env.addSlot(providerA, time.Monday, "08:00", "12:00")
	if _, err := env.svc.GetCapacity(context.Background(), sl.ID, engine.Date{}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// -- Planning --

func TestService_Allocate(t *testing.T) {
	env := newTestEnv()
	env.addSlot(providerA, time.Monday, "08:00", "12:00")

	plan, err := env.svc.Allocate(context.Background(), providerA, AllocationRequest{StartDate: monday, Minutes: 90})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.IsSufficient || len(plan.Entries) != 1 {
		t.Fatalf("expected one sufficient entry, got %+v", plan.AllocationPlan)
	}
	if plan.Collapsed == nil || plan.Collapsed.Start != tod("08:00") || plan.Collapsed.End != tod("09:30") {
		t.Errorf("unexpected collapsed range %+v", plan.Collapsed)
	}
}

func TestService_Allocate_Invalid(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Allocate(context.Background(), providerA, AllocationRequest{StartDate: monday, Minutes: 0}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Allocate(context.Background(), providerA, AllocationRequest{StartDate: monday, Minutes: 10, MaxDays: -1}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Allocate(context.Background(), providerA, AllocationRequest{StartDate: monday, Minutes: 10, MaxDays: 100_000_000}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for an unbounded day window, got %v", err)
	}
}

func TestService_CreateAssignment_PlanMaxDaysCeiling(t *testing.T) {
	env := newTestEnv()
	env.addSlot(providerA, time.Monday, "08:00", "10:00")

	_, err := env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID:      providerA,
		ScheduleRequest: ScheduleRequest{StartDate: monday, Minutes: 60, MaxDays: engine.DefaultMaxDays + 1},
	})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if len(env.assignments.items) != 0 {
		t.Errorf("expected nothing stored, got %d assignments", len(env.assignments.items))
	}
}

func TestService_CheckOverlap(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sl := env.addSlot(providerA, time.Monday, "08:00", "12:00")
	v, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := env.svc.CheckOverlap(ctx, providerA, OverlapCheckRequest{Date: monday, StartTime: todPtr("09:30"), EndTime: todPtr("10:30")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Overlaps || res.Conflict == nil || res.Conflict.BookingID != v.ID.String() {
		t.Errorf("expected conflict with %s, got %+v", v.ID, res)
	}

	res, _ = env.svc.CheckOverlap(ctx, providerA, OverlapCheckRequest{Date: monday, StartTime: todPtr("10:00"), EndTime: todPtr("11:00")})
	if res.Overlaps {
		t.Error("expected touching range not to overlap")
	}

	res, _ = env.svc.CheckOverlap(ctx, providerA, OverlapCheckRequest{Date: monday, SlotIDs: []uuid.UUID{sl.ID}, ExcludeBookingID: &v.ID})
	if res.Overlaps {
		t.Error("expected excluded booking not to conflict")
	}

	res, _ = env.svc.CheckOverlap(ctx, providerA, OverlapCheckRequest{Date: monday, SlotIDs: []uuid.UUID{sl.ID}})
	if !res.Overlaps {
		t.Error("expected slot window to overlap the booking")
	}
}

func TestService_CheckOverlap_Invalid(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	cases := map[string]OverlapCheckRequest{
		"no date":        {StartTime: todPtr("09:00"), EndTime: todPtr("10:00")},
		"missing end":    {Date: monday, StartTime: todPtr("09:00")},
		"reversed":       {Date: monday, StartTime: todPtr("10:00"), EndTime: todPtr("09:00")},
		"slots and time": {Date: monday, StartTime: todPtr("09:00"), SlotIDs: []uuid.UUID{uuid.New()}},
	}
	for name, req := range cases {
		if _, err := svc.CheckOverlap(ctx, providerA, req); !errors.Is(err, engine.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

// -- Assignments --

func TestService_CreateAssignment_Segments(t *testing.T) {
	env := newTestEnv()
	v, err := env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00", "10:00", "10:30"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Status != engine.StatusAssigned || v.Version != 1 {
		t.Errorf("unexpected status %s version %d", v.Status, v.Version)
	}
	if v.AllocatedDurationMinutes != 90 {
		t.Errorf("expected 90 allocated minutes, got %d", v.AllocatedDurationMinutes)
	}
	if v.OccupiedStart == nil || *v.OccupiedStart != tod("09:00") || *v.OccupiedEnd != tod("10:30") {
		t.Errorf("expected contiguous segments to collapse to 09:00-10:30")
	}
	if !v.ScheduledDate.Equal(monday) || v.SpanDays != 1 {
		t.Errorf("unexpected scheduled date %s span %d", v.ScheduledDate, v.SpanDays)
	}
}

func TestService_CreateAssignment_Slots(t *testing.T) {
	env := newTestEnv()
	a := env.addSlot(providerA, time.Monday, "08:00", "10:00")
	b := env.addSlot(providerA, time.Monday, "13:00", "15:00")

	v, err := env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID:      providerA,
		ScheduleRequest: ScheduleRequest{Date: monday, SlotIDs: []uuid.UUID{b.ID, a.ID}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Segments) != 2 || v.AllocatedDurationMinutes != 240 {
		t.Errorf("expected 2 segments of 240 minutes, got %d / %d", len(v.Segments), v.AllocatedDurationMinutes)
	}
	if v.OccupiedStart != nil {
		t.Error("expected gapped assignment to have no collapsed range")
	}
	if v.Bounding == nil || v.Bounding.Start != tod("08:00") || v.Bounding.End != tod("15:00") {
		t.Errorf("unexpected bounding range %+v", v.Bounding)
	}

	_, err = env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID:      providerA,
		ScheduleRequest: ScheduleRequest{SlotIDs: []uuid.UUID{a.ID}},
	})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without date, got %v", err)
	}
}

func TestService_CreateAssignment_Plan(t *testing.T) {
	env := newTestEnv()
	env.addSlot(providerA, time.Monday, "08:00", "10:00")
	env.addSlot(providerA, time.Tuesday, "08:00", "10:00")

	v, err := env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID:      providerA,
		ScheduleRequest: ScheduleRequest{StartDate: monday, Minutes: 180},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.SpanDays != 2 || v.OccupiedStart != nil {
		t.Errorf("expected a 2-day assignment without collapsed range, got span %d", v.SpanDays)
	}
	if v.AllocatedDurationMinutes != 180 {
		t.Errorf("expected 180 allocated, got %d", v.AllocatedDurationMinutes)
	}
}

func TestService_CreateAssignment_InsufficientCapacity(t *testing.T) {
	env := newTestEnv()
	env.addSlot(providerA, time.Monday, "08:00", "09:00")
	req := CreateAssignmentRequest{
		ProviderID:      providerA,
		ScheduleRequest: ScheduleRequest{StartDate: monday, Minutes: 120, MaxDays: 3},
	}

	_, err := env.svc.CreateAssignment(context.Background(), req)
	var short *InsufficientCapacityError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientCapacityError, got %v", err)
	}
	if short.Plan.Shortfall != 60 || short.Plan.DaysProcessed != 3 {
		t.Errorf("unexpected plan shortfall %d days %d", short.Plan.Shortfall, short.Plan.DaysProcessed)
	}
	if len(env.assignments.items) != 0 {
		t.Error("expected nothing committed")
	}

	req.AllowPartial = true
	v, err := env.svc.CreateAssignment(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.AllocatedDurationMinutes != 60 {
		t.Errorf("expected partial booking of 60 minutes, got %d", v.AllocatedDurationMinutes)
	}
}

func TestService_CreateAssignment_NoCapacityEvenWithPartial(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID:      providerA,
		ScheduleRequest: ScheduleRequest{StartDate: monday, Minutes: 30, MaxDays: 2, AllowPartial: true},
	})
	if !errors.Is(err, ErrInsufficientCapacity) {
		t.Errorf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestService_CreateAssignment_Modes(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.CreateAssignment(ctx, CreateAssignmentRequest{ProviderID: providerA}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for no mode, got %v", err)
	}
	req := segmentsReq(monday, "09:00", "10:00")
	req.Minutes = 30
	if _, err := svc.CreateAssignment(ctx, CreateAssignmentRequest{ProviderID: providerA, ScheduleRequest: req}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for two modes, got %v", err)
	}
	if _, err := svc.CreateAssignment(ctx, CreateAssignmentRequest{ScheduleRequest: segmentsReq(monday, "09:00", "10:00")}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without provider, got %v", err)
	}
}

func TestService_CreateAssignment_Conflict(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	first, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:30", "10:30"),
	})
	var conflict *engine.TimeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected TimeConflictError, got %v", err)
	}
	if conflict.BookingID != first.ID.String() {
		t.Errorf("expected conflict with %s, got %s", first.ID, conflict.BookingID)
	}

	// another provider's time is independent
	if _, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerB, ScheduleRequest: segmentsReq(monday, "09:30", "10:30"),
	}); err != nil {
		t.Errorf("unexpected error for other provider: %v", err)
	}
}

func TestService_CreateAssignment_RetriesLockContention(t *testing.T) {
	env := newTestEnv()
	env.locker.failures = 2

	if _, err := env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.locker.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", env.locker.calls)
	}
}

func TestService_CreateAssignment_GivesUpAfterAttempts(t *testing.T) {
	env := newTestEnv()
	env.locker.failures = 5

	_, err := env.svc.CreateAssignment(context.Background(), CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	if !errors.Is(err, engine.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if env.locker.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", env.locker.calls)
	}
}

func TestService_RescheduleAssignment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	v, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	moved, err := env.svc.RescheduleAssignment(ctx, v.ID, segmentsReq(monday, "09:30", "10:30"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.Version != 2 || moved.Segments[0].Start != tod("09:30") {
		t.Errorf("unexpected rescheduled assignment %+v", moved.Booking)
	}

	if _, err := env.svc.RescheduleAssignment(ctx, uuid.New(), segmentsReq(monday, "09:30", "10:30")); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_RescheduleAssignment_AfterExtensionKeepsPlannedEqualToOccupied(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.addSlot(providerA, time.Monday, "08:00", "12:00")
	v, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x, err := env.svc.RequestExtension(ctx, v.ID, ExtensionInput{RequestedMinutes: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := env.svc.ApproveExtension(ctx, x.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	moved, err := env.svc.RescheduleAssignment(ctx, v.ID, ScheduleRequest{StartDate: monday, Minutes: 90})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	occupied := 0
	for _, sg := range moved.Segments {
		occupied += int(sg.End - sg.Start)
	}
	d, err := env.svc.Duration(ctx, v.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if occupied != 90 || d.PlannedMinutes != occupied {
		t.Errorf("expected planned %d to equal occupied 90, got occupied %d", d.PlannedMinutes, occupied)
	}
	if d.AllocatedDurationMinutes != 60 || d.ApprovedExtensionMinutes != 30 {
		t.Errorf("unexpected duration %+v", d)
	}
}

func TestService_Transition(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	v, _ := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})

	if _, err := env.svc.Transition(ctx, v.ID, "finish"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.svc.Transition(ctx, v.ID, "explode"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	started, err := env.svc.Transition(ctx, v.ID, "start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started.Status != engine.StatusInProgress || started.StartedAt == nil {
		t.Errorf("expected in_progress with started_at, got %s", started.Status)
	}
}

func TestService_Transition_CancelFreesTime(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	v, _ := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	cancelled, err := env.svc.Transition(ctx, v.ID, "cancel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != engine.StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	}); err != nil {
		t.Errorf("expected cancelled time to be bookable, got %v", err)
	}
}

func TestService_Duration(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	v, _ := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	d, err := env.svc.Duration(ctx, v.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.AllocatedDurationMinutes != 60 || d.ActualMinutes != nil || d.OvertimeMinutes != nil {
		t.Errorf("unexpected duration %+v", d)
	}
}

// -- Extensions --

func TestService_ExtensionApproveFlow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	v, _ := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})

	x, err := env.svc.RequestExtension(ctx, v.ID, ExtensionInput{RequestedMinutes: 30, Reason: "  parts delayed "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if x.Status != engine.ExtensionPending || x.Reason != "parts delayed" {
		t.Errorf("unexpected extension %+v", x)
	}
	if _, err := env.svc.RequestExtension(ctx, v.ID, ExtensionInput{RequestedMinutes: 15}); !errors.Is(err, engine.ErrExtensionPending) {
		t.Errorf("expected ErrExtensionPending, got %v", err)
	}

	approved, av, err := env.svc.ApproveExtension(ctx, x.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved.Status != engine.ExtensionApproved || approved.DecidedAt == nil {
		t.Errorf("unexpected extension %+v", approved)
	}
	if av.ApprovedExtensionMinutes != 30 || *av.OccupiedEnd != tod("10:30") {
		t.Errorf("expected end 10:30 with 30 extension minutes, got %+v", av.Booking)
	}

	list, err := env.svc.ListExtensions(ctx, v.ID)
	if err != nil || len(list) != 1 {
		t.Errorf("expected one extension, got %d (%v)", len(list), err)
	}
}

func TestService_ExtensionApprove_Conflict(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	v, _ := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	if _, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "10:15", "11:00"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x, _ := env.svc.RequestExtension(ctx, v.ID, ExtensionInput{RequestedMinutes: 30})

	if _, _, err := env.svc.ApproveExtension(ctx, x.ID); !errors.Is(err, engine.ErrTimeConflict) {
		t.Fatalf("expected ErrTimeConflict, got %v", err)
	}
	still, _ := env.extensions.GetExtension(ctx, x.ID)
	if still.Status != engine.ExtensionPending {
		t.Errorf("expected request to stay pending, got %s", still.Status)
	}

	rejected, err := env.svc.RejectExtension(ctx, x.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rejected.Status != engine.ExtensionRejected {
		t.Errorf("expected rejected, got %s", rejected.Status)
	}
	if _, err := env.svc.RejectExtension(ctx, x.ID); err == nil {
		t.Error("expected deciding twice to fail")
	}
}

// -- Reports --

func TestService_OvertimeReport(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	keep, _ := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "09:00", "10:00"),
	})
	drop, _ := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerA, ScheduleRequest: segmentsReq(monday, "11:00", "12:00"),
	})
	if _, err := env.svc.Transition(ctx, drop.ID, "cancel"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.CreateAssignment(ctx, CreateAssignmentRequest{
		ProviderID: providerB, ScheduleRequest: segmentsReq(monday, "11:00", "12:00"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := env.svc.OvertimeReport(ctx, AssignmentFilter{ProviderID: &providerA, From: monday, To: monday})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].AssignmentID != keep.ID.String() {
		t.Fatalf("expected only the open assignment, got %+v", rows)
	}
	if rows[0].ScheduledDate != "2024-01-01" || rows[0].Allocated != 60 || rows[0].Actual != nil {
		t.Errorf("unexpected row %+v", rows[0])
	}

	if _, err := env.svc.OvertimeReport(ctx, AssignmentFilter{From: monday, To: monday.AddDays(-1)}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for reversed range, got %v", err)
	}
}

// -- Import --

const seedYAML = `
providers:
  - provider_id: 11111111-1111-1111-1111-111111111111
    replace: true
    slots:
      - {day: monday, start: "08:00", end: "12:00"}
      - {day: "2", start: "13:00", end: "17:00"}
`

func TestService_ImportSlots(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stale := env.addSlot(providerA, time.Friday, "08:00", "09:00")

	f, err := ParseSlotFile(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := env.svc.ImportSlots(ctx, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created != 2 || res.Deactivated != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if got, _ := env.slots.GetByID(ctx, stale.ID); got.IsActive {
		t.Error("expected slot missing from the file to be deactivated")
	}

	res, err = env.svc.ImportSlots(ctx, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created != 0 || res.Unchanged != 2 || res.Deactivated != 0 {
		t.Errorf("expected re-import to be a no-op, got %+v", res)
	}
}

func TestService_ImportSlots_Reactivates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sl := env.addSlot(providerA, time.Monday, "08:00", "12:00")
	if _, err := env.svc.DeactivateSlot(ctx, sl.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, _ := ParseSlotFile(strings.NewReader(seedYAML))
	res, err := env.svc.ImportSlots(ctx, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reactivated != 1 || res.Created != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestService_ImportSlots_ValidatesBeforeWriting(t *testing.T) {
	env := newTestEnv()
	f, err := ParseSlotFile(strings.NewReader(`
providers:
  - provider_id: 11111111-1111-1111-1111-111111111111
    slots:
      - {day: monday, start: "08:00", end: "12:00"}
      - {day: someday, start: "08:00", end: "12:00"}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.ImportSlots(context.Background(), f); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if len(env.slots.slots) != 0 {
		t.Errorf("expected nothing written, got %d slots", len(env.slots.slots))
	}
}

func TestParseSlotFile_UnknownField(t *testing.T) {
	_, err := ParseSlotFile(strings.NewReader("providers:\n  - provider_id: x\n    colour: red\n"))
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
