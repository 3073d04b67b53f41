package provider

import (
	"errors"
	"fmt"
)

// Class identifies the failure class of a single provider call attempt.
type Class string

const (
	ClassAuth        Class = "auth"
	ClassRateLimited Class = "rate_limited"
	ClassServer      Class = "server"
	ClassTransport   Class = "transport"
)

var (
	// ErrNoCredentials is returned before any network call when the key list
	// is empty.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrEmptyReply indicates the provider call succeeded but produced no
	// usable content. Callers substitute a deterministic fallback.
	ErrEmptyReply = errors.New("provider returned empty reply")
)

// CallError is a classified failure of one attempt against one key. All four
// classes are retryable by rotating to the next key.
type CallError struct {
	Class  Class
	Status int
	Err    error
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s error (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", e.Class, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ExhaustedError aggregates a full rotation pass where every key failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d provider key(s) failed; last error: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// classifyStatus maps an HTTP status to a rotation-retryable class.
// Success and non-auth 4xx statuses are not rotation failures.
func classifyStatus(status int) (Class, bool) {
	switch {
	case status == 401 || status == 403:
		return ClassAuth, true
	case status == 429:
		return ClassRateLimited, true
	case status >= 500:
		return ClassServer, true
	default:
		return "", false
	}
}

// rotatable reports whether an attempt error should advance to the next key.
func rotatable(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// FailureClass extracts the class of a classified attempt error, if any.
func FailureClass(err error) (Class, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return "", false
}
