package domain

import "time"

// Phase is the temporal state of a quiz run.
type Phase int

const (
	PhaseNotStarted Phase = iota + 1
	PhaseInProgress
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseInProgress:
		return "in_progress"
	case PhaseFinished:
		return "finished"
	}
	return "unknown"
}

// PhaseAt maps the clock onto the run window [start, start+duration).
// Bounds are strict: at the opening instant the quiz is in progress, at the
// closing instant it is finished.
func PhaseAt(start time.Time, durationMinutes int, now time.Time) Phase {
	if now.Before(start) {
		return PhaseNotStarted
	}
	if now.Before(start.Add(time.Duration(durationMinutes) * time.Minute)) {
		return PhaseInProgress
	}
	return PhaseFinished
}

// PhaseAt derives the quiz's phase at the given instant.
func (q Quiz) PhaseAt(now time.Time) Phase {
	return PhaseAt(q.StartTime, q.DurationMinutes, now)
}
