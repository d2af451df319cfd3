package tickets

import "time"

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusError, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusDone, StatusError, StatusExpired, StatusCancelled}
}

// CanTransition reports whether from -> to is an edge of the ticket lifecycle.
// Re-observing the same non-terminal state is allowed; terminal states are final.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to != StatusPending
	case StatusProcessing:
		return to != StatusPending
	default:
		return false
	}
}

// Observe merges a freshly polled snapshot into the previously accepted one.
// Snapshots that leave a terminal state or take an illegal edge are ignored
// (ok=false, prev returned). Progress never moves backwards while PROCESSING.
func Observe(prev, next Ticket) (Ticket, bool) {
	if prev.ID == "" {
		return next, true
	}
	if prev.Status.Terminal() && next.Status != prev.Status {
		return prev, false
	}
	if !CanTransition(prev.Status, next.Status) {
		return prev, false
	}
	if next.Status == StatusProcessing && prev.Status == StatusProcessing &&
		next.ProgressPercentage < prev.ProgressPercentage {
		next.ProgressPercentage = prev.ProgressPercentage
	}
	return next, true
}

// EffectiveStatus reports EXPIRED for an active ticket whose deadline passed,
// regardless of what the backend last said.
func (t Ticket) EffectiveStatus(now time.Time) Status {
	if !t.Status.Terminal() && !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt) {
		return StatusExpired
	}
	return t.Status
}

// Transition renders a status change for logs, e.g. "PENDING->PROCESSING".
func Transition(from, to Status) string {
	if from == "" {
		return string(to)
	}
	return string(from) + "->" + string(to)
}
