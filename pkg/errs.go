package pkg

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrNotFound covers both "does not exist" and "not owned by caller" so the
// two cases are indistinguishable to the client.
var ErrNotFound = errors.New("not found")

// ValidationError marks malformed or missing client input
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PersistenceError marks a storage failure, distinguishing infrastructure
// trouble from application errors
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UpstreamError carries the status and body of a failed inference call
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed with status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is transient (5xx); 4xx repeats a
// guaranteed failure and must not be retried.
func (e *UpstreamError) Retryable() bool {
	return e.Status >= 500
}

// IsClientAbort reports whether err stems from the consumer dropping the
// connection: a canceled request context, or the write errors a dead socket
// produces. Not a user-visible error: there is nobody left to tell.
func IsClientAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, and retryable upstream statuses.
func IsTransient(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
