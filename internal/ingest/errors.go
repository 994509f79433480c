package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueEmpty is returned by Queue.Pop when the timeout elapsed with nothing to pop.
	ErrQueueEmpty = errors.New("ingest: queue empty")
	// ErrQueueFull is returned by bounded queues that cannot take another message.
	ErrQueueFull = errors.New("ingest: queue full")
	// ErrDrainerRunning is returned by Drainer.Start when the loop is already running.
	ErrDrainerRunning = errors.New("ingest: drainer already running")
)

// SerializationError reports a reading that could not be wrapped into a transport envelope.
type SerializationError struct {
	Type ReadingType
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("ingest: serialize %s envelope: %v", e.Type, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ParseError reports a popped message that is not a usable envelope.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: parse envelope: %s: %v", e.Reason, e.Err)
	}
	return "ingest: parse envelope: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }
