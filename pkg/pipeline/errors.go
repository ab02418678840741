package pipeline

import "errors"

var (
	// ErrPipelineOverflow forces a flush; it is not fatal to the call.
	ErrPipelineOverflow = errors.New("pipeline: overflow, forcing flush")

	// ErrStageFailure isolates the failing stage; the caller marks the
	// call ERROR and signals the FSM.
	ErrStageFailure = errors.New("pipeline: stage failure")
)
