package callfsm

import "errors"

var (
	// ErrInvalidTransition is attached to the warning the FSM logs when a
	// requested transition is not in the valid-transition table; the event
	// is dropped and Enqueue does not return it. The FSM is the authority:
	// callers must not bypass it.
	ErrInvalidTransition = errors.New("callfsm: invalid transition")

	// ErrCallTerminated is returned when an event is enqueued for a call
	// already in a terminal state.
	ErrCallTerminated = errors.New("callfsm: call already terminated")
)
