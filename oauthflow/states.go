package oauthflow

import (
	"fmt"

	"github.com/jrsteele09/go-ride-session/internal/errors"
)

// State is the position of one login attempt.
type State int

const (
	StateIdle State = iota
	StateURLRequested
	StateAwaitingUser
	StateExchanging
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateURLRequested:
		return "url-requested"
	case StateAwaitingUser:
		return "awaiting-user"
	case StateExchanging:
		return "exchanging"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// awaiting-user -> committed is the direct credentials path only.
var transitions = map[State][]State{
	StateIdle:         {StateURLRequested},
	StateURLRequested: {StateAwaitingUser, StateFailed},
	StateAwaitingUser: {StateExchanging, StateCommitted, StateFailed},
	StateExchanging:   {StateCommitted, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// flow tracks one attempt through the state machine.
type flow struct {
	state    State
	observer func(State)
}

func (f *flow) to(next State) error {
	if !canTransition(f.state, next) {
		return errors.Wrapf(errors.ErrInvalidState, "[flow to] %s -> %s", f.state, next)
	}
	f.state = next
	if f.observer != nil {
		f.observer(next)
	}
	return nil
}
