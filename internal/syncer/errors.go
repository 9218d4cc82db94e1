package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown documents and queue items.
	ErrNotFound = errors.New("not found")
	// ErrNoBackends is returned when the engine is built without adapters.
	ErrNoBackends = errors.New("no storage backends configured")
)

// RetryExhaustedError marks a queue item that will not be retried again
// until it is requeued by hand.
type RetryExhaustedError struct {
	DocumentID string
	Backend    string
	Retries    int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("sync %s to %s: gave up after %d retries: %v", e.DocumentID, e.Backend, e.Retries, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
