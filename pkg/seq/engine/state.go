package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// State is where a run is in its lifecycle.
type State string

const (
	Pending       State = "PENDING"
	FirstRunning  State = "FIRST_RUNNING"
	SecondRunning State = "SECOND_RUNNING"
	Completed     State = "COMPLETED"
)

func isAllowedTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == FirstRunning || to == Completed
	case FirstRunning:
		return to == SecondRunning || to == Completed
	case SecondRunning:
		return to == Completed
	default:
		return false
	}
}

// Transition is reported to the observer every time a run changes state.
type Transition struct {
	Run  uuid.UUID
	From State
	To   State
	Err  error
}

// run is owned by whichever goroutine is working on it; hand-offs between
// lanes go through channels, so it needs no lock.
type run struct {
	id    uuid.UUID
	state State
}

func (r *run) advance(to State) (Transition, error) {
	if !isAllowedTransition(r.state, to) {
		return Transition{}, fmt.Errorf("run %s: disallowed transition %s -> %s", r.id, r.state, to)
	}
	t := Transition{Run: r.id, From: r.state, To: to}
	r.state = to
	return t, nil
}
