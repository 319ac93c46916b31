package forwarder

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSnapshot means the source produced no usable snapshot
	ErrNoSnapshot = errors.New("no snapshot available")
	// ErrInactive means no valid destination is configured
	ErrInactive = errors.New("forwarder is not active")
	// ErrCycleInProgress is returned when a cycle is triggered while one runs
	ErrCycleInProgress = errors.New("cycle already in progress")
	// ErrTransport wraps socket creation failures and partial writes
	ErrTransport = errors.New("transport error")
	// ErrWatermarkRegression is returned when a snapshot ends before the cursor it was fetched from
	ErrWatermarkRegression = errors.New("watermark cannot move backwards")
	// ErrWatermarkPersist wraps a store failure; the in-memory watermark still moved
	ErrWatermarkPersist = errors.New("failed to persist watermark")
)

// DecodeError reports a snapshot payload that could not be parsed
type DecodeError struct {
	Length int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unable to decode snapshot (%d bytes): %v", e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
