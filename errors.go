package seda

import (
	"errors"
	"fmt"
)

var (
	// ErrStageNotFound is returned when no stage is registered under a name.
	ErrStageNotFound = errors.New("seda: stage not found")
	// ErrInvalidConfig is returned when a stage is created with an invalid configuration.
	ErrInvalidConfig = errors.New("seda: invalid configuration")
	// ErrNoRoute is returned by the [Router] when a message kind has no route.
	ErrNoRoute = errors.New("seda: no route for message")
	// ErrUnexpectedMessage is returned by a processor receiving a message it cannot handle.
	ErrUnexpectedMessage = errors.New("seda: unexpected message")
)

// PanicError wraps the value recovered from a panicking processor or tunable.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("seda: recovered panic: %v", e.Value)
}
