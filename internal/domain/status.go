package domain

// transitions is the task lifecycle:
//
//	staged -> committed -> running -> completed | failed
//	running <-> paused
//	any non-terminal -> cancelled
//
// A paused task only ever finishes by being resumed first or by cancellation.
// Outcomes recorded against a paused task pass through running.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusStaged:    {TaskStatusCommitted, TaskStatusCancelled},
	TaskStatusCommitted: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning:   {TaskStatusCompleted, TaskStatusFailed, TaskStatusPaused, TaskStatusCancelled},
	TaskStatusPaused:    {TaskStatusRunning, TaskStatusCancelled},
}

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LegalSources narrows fromAllowed to the statuses that have an edge to to.
func LegalSources(fromAllowed []TaskStatus, to TaskStatus) []TaskStatus {
	out := make([]TaskStatus, 0, len(fromAllowed))
	for _, from := range fromAllowed {
		if CanTransition(from, to) && !containsStatus(out, from) {
			out = append(out, from)
		}
	}
	return out
}

// NonTerminal returns the statuses a task can still leave.
func NonTerminal() []TaskStatus {
	return []TaskStatus{TaskStatusStaged, TaskStatusCommitted, TaskStatusRunning, TaskStatusPaused}
}

func containsStatus(list []TaskStatus, s TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
