package recorder

import (
	"errors"
	"fmt"
)

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Armed
	Recording
	Finalizing
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event drives a transition.
type Event int

const (
	EventTargetAssigned Event = iota
	EventTargetLost
	EventStart
	EventComplete
	EventAbort
	EventFinalized
)

func (e Event) String() string {
	switch e {
	case EventTargetAssigned:
		return "target_assigned"
	case EventTargetLost:
		return "target_lost"
	case EventStart:
		return "start"
	case EventComplete:
		return "complete"
	case EventAbort:
		return "abort"
	case EventFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var ErrIllegalTransition = errors.New("recorder: illegal transition")

var transitions = map[State]map[Event]State{
	Idle: {
		EventTargetAssigned: Armed,
		EventTargetLost:     Idle,
	},
	Armed: {
		EventTargetAssigned: Armed,
		EventTargetLost:     Idle,
		EventStart:          Recording,
	},
	Recording: {
		EventComplete: Finalizing,
		EventAbort:    Aborted,
	},
	Finalizing: {
		EventAbort:     Aborted,
		EventFinalized: Idle,
	},
	Aborted: {
		EventFinalized: Idle,
	},
}

// transition looks up (from, ev). Anything not in the table is rejected and
// the caller keeps its current state.
func transition(from State, ev Event) (State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
}
