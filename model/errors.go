package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAbandoned resolves handles whose job was still queued at shutdown.
	ErrAbandoned = errors.New("job abandoned: task manager shut down")
	// ErrTimeout is the caller-side give-up; the job itself keeps running.
	ErrTimeout = errors.New("timed out waiting for job result")
	// ErrCapacityRejected is returned when the queue is at the configured bound.
	ErrCapacityRejected = errors.New("queue at capacity")
	ErrInvalidInput     = errors.New("invalid audio input")
	ErrJobNotFound      = errors.New("job not found")
)

// ProcessingError carries a failure of the processing function back to the
// submitter.
type ProcessingError struct {
	JobID string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("job %s: processing failed: %v", e.JobID, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
