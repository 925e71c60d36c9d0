package server

import (
	"errors"
	"fmt"
	"slices"
)

var ErrIllegalTransition = errors.New("server: illegal connection state transition")

// State is where a connection sits in its request/response cycle.
type State uint8

const (
	StateNew State = iota
	StateReading
	StateResponding
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReading:
		return "reading"
	case StateResponding:
		return "responding"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// transitions lists every legal next state. Closed is terminal.
var transitions = map[State][]State{
	StateNew:        {StateReading, StateClosed},
	StateReading:    {StateResponding, StateClosed},
	StateResponding: {StateDraining, StateClosed},
	StateDraining:   {StateReading, StateClosed},
}

func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
