package scheduling

import (
	"time"
)

// Status is the lifecycle state of an assignment.
type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusOnHold     Status = "on_hold"
	StatusFinished   Status = "finished"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventStart   Event = "start"
	EventHold    Event = "hold"
	EventResume  Event = "resume"
	EventFinish  Event = "finish"
	EventApprove Event = "approve"
	EventCancel  Event = "cancel"
)

var transitions = map[Status]map[Event]Status{
	StatusAssigned: {
		EventStart:  StatusInProgress,
		EventCancel: StatusCancelled,
	},
	StatusInProgress: {
		EventHold:   StatusOnHold,
		EventFinish: StatusFinished,
		EventCancel: StatusCancelled,
	},
	StatusOnHold: {
		EventResume: StatusInProgress,
		EventCancel: StatusCancelled,
	},
	StatusFinished: {
		EventApprove: StatusCompleted,
		EventCancel:  StatusCancelled,
	},
}

var knownStatuses = map[Status]bool{
	StatusAssigned: true, StatusInProgress: true, StatusOnHold: true,
	StatusFinished: true, StatusCompleted: true, StatusCancelled: true,
}

var knownEvents = map[Event]bool{
	EventStart: true, EventHold: true, EventResume: true,
	EventFinish: true, EventApprove: true, EventCancel: true,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !knownStatuses[st] {
		return "", invalidf("unknown status %q", s)
	}
	return st, nil
}

// ParseEvent validates an event string.
func ParseEvent(s string) (Event, error) {
	ev := Event(s)
	if !knownEvents[ev] {
		return "", invalidf("unknown event %q", s)
	}
	return ev, nil
}

// Active reports whether a booking in this status occupies its time.
func (s Status) Active() bool { return s != StatusCancelled }

// Open reports whether work on the booking can still change its schedule.
func (s Status) Open() bool {
	return s == StatusAssigned || s == StatusInProgress || s == StatusOnHold
}

// NextStatus returns the state reached from `from` by ev.
func NextStatus(from Status, ev Event) (Status, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

// Apply moves the booking through ev and stamps the matching timestamp. On
// error the booking is left untouched.
func (b *Booking) Apply(ev Event, at time.Time) error {
	to, err := NextStatus(b.Status, ev)
	if err != nil {
		return err
	}
	ts := at
	switch ev {
	case EventStart:
		b.StartedAt = &ts
	case EventHold:
		b.HeldAt = &ts
	case EventResume:
		b.ResumedAt = &ts
	case EventFinish:
		b.FinishedAt = &ts
	case EventApprove:
		b.CompletedAt = &ts
	case EventCancel:
		b.CancelledAt = &ts
	}
	b.Status = to
	b.UpdatedAt = at
	return nil
}

// DurationSummary is the time bookkeeping of an assignment. Actual and
// overtime stay nil until both started_at and finished_at are known.
type DurationSummary struct {
	AssignmentID             string `json:"assignment_id"`
	AllocatedDurationMinutes int    `json:"allocated_duration_minutes"`
	ApprovedExtensionMinutes int    `json:"approved_extension_minutes"`
	PlannedMinutes           int    `json:"planned_minutes"`
	ActualMinutes            *int   `json:"actual_minutes"`
	OvertimeMinutes          *int   `json:"overtime_minutes"`
}

// ActualMinutes is finished_at minus started_at in whole minutes.
func (b *Booking) ActualMinutes() *int {
	if b.StartedAt == nil || b.FinishedAt == nil {
		return nil
	}
	n := int(b.FinishedAt.Sub(*b.StartedAt) / time.Minute)
	return &n
}

// OvertimeMinutes is signed; negative means the work finished early.
func (b *Booking) OvertimeMinutes() *int {
	actual := b.ActualMinutes()
	if actual == nil {
		return nil
	}
	n := *actual - (b.AllocatedDurationMinutes + b.ApprovedExtensionMinutes)
	return &n
}

// Duration summarizes the booking's allocated, extended and actual time.
func (b *Booking) Duration() DurationSummary {
	return DurationSummary{
		AssignmentID:             b.ID.String(),
		AllocatedDurationMinutes: b.AllocatedDurationMinutes,
		ApprovedExtensionMinutes: b.ApprovedExtensionMinutes,
		PlannedMinutes:           b.AllocatedDurationMinutes + b.ApprovedExtensionMinutes,
		ActualMinutes:            b.ActualMinutes(),
		OvertimeMinutes:          b.OvertimeMinutes(),
	}
}
