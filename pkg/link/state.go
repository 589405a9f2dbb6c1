package link

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the association state of the link.
type State uint8

const (
	StateIdle State = iota
	StateAssociating
	StateConnected
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAssociating:
		return "ASSOCIATING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func parseState(s string) State {
	for _, st := range []State{StateIdle, StateAssociating, StateConnected, StateFailed} {
		if st.String() == s {
			return st
		}
	}
	return StateIdle
}

// State machine events.
const (
	evAssociate = "associate"
	evAssigned  = "assigned"
	evFail      = "fail"
	evStop      = "stop"
)

func newStateMachine(callbacks fsm.Callbacks) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: evAssociate, Src: []string{StateIdle.String(), StateConnected.String(), StateFailed.String()}, Dst: StateAssociating.String()},
			{Name: evAssigned, Src: []string{StateAssociating.String()}, Dst: StateConnected.String()},
			{Name: evFail, Src: []string{StateAssociating.String(), StateConnected.String()}, Dst: StateFailed.String()},
			{Name: evStop, Src: []string{StateAssociating.String(), StateConnected.String(), StateFailed.String()}, Dst: StateIdle.String()},
		},
		callbacks,
	)
}

// fire runs event unless the machine cannot take it from its current
// state. Repeated association attempts stay in ASSOCIATING.
func fire(ctx context.Context, f *fsm.FSM, event string, args ...any) error {
	if !f.Can(event) {
		return nil
	}
	return f.Event(ctx, event, args...)
}
