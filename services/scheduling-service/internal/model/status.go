package model

import "fmt"

// Status is the lifecycle state of an appointment. Transitions are driven by the
// explicit table below; anything not listed is rejected.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// Blocks reports whether an appointment in this status occupies practitioner time.
// Cancelled and no-show appointments do not block; everything else does.
func (s Status) Blocks() bool {
	return s != StatusCancelled && s != StatusNoShow
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Statuses returns every known status. Used by tests and by handlers that
// enumerate filter options.
func Statuses() []Status {
	return []Status{
		StatusScheduled,
		StatusConfirmed,
		StatusCheckedIn,
		StatusInProgress,
		StatusCompleted,
		StatusCancelled,
		StatusNoShow,
	}
}
