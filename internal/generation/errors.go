package generation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates the caller supplied missing or malformed input.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrStorage indicates an image or video could not be persisted.
	ErrStorage = errors.New("storage failure")
	// ErrProvider indicates the generation call failed or returned no usable video.
	ErrProvider = errors.New("provider failure")
	// ErrFetch indicates the finished video could not be retrieved.
	ErrFetch = errors.New("video fetch failure")
	// ErrDownstream groups the failures raised while materializing the result.
	ErrDownstream = errors.New("downstream failure")
)

// StageError records which pipeline stage failed, the taxonomy kind and the
// collaborator error that caused it.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes the kind, the cause and, for result materialization, ErrDownstream.
func (e *StageError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Stage == StageFetching || e.Stage == StagePersisting {
		errs = append(errs, ErrDownstream)
	}
	return errs
}

func stageError(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
