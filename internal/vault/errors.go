package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrRetentionViolation is wrapped by an IllegalTransitionError when a
	// retention-locked document is unlocked before its retention end date.
	ErrRetentionViolation = errors.New("retention period has not ended")
	// ErrPermissionDenied means the actor lacks the permission the operation needs.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoPolicy means no retention policy exists for the role.
	ErrNoPolicy = errors.New("no retention policy for role")
	// ErrNoVerifier means verification was requested without a provider.
	ErrNoVerifier = errors.New("verification provider not configured")
	// ErrVerificationRejected is returned by a provider that refused the document.
	ErrVerificationRejected = errors.New("verification rejected")
)

// IllegalTransitionError reports an operation that is not allowed from the
// record's current state.
type IllegalTransitionError struct {
	DocumentID string
	Action     string
	State      State
	Err        error
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("illegal transition: cannot %s %s document %s", e.Action, e.State, e.DocumentID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IllegalTransitionError) Unwrap() error { return e.Err }

// ConcurrentModificationError is returned to the writer that lost a race on
// the same lock record. Holder is the actor holding the lock, when known.
type ConcurrentModificationError struct {
	DocumentID string
	Holder     string
	Expected   uint64
	Actual     uint64
}

func (e *ConcurrentModificationError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("document %s is locked by %s", e.DocumentID, e.Holder)
	}
	return fmt.Sprintf("document %s was modified concurrently (version %d, now %d)", e.DocumentID, e.Expected, e.Actual)
}
