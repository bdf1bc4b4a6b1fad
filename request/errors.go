package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindNetwork: no response was received.
	KindNetwork Kind = iota + 1
	// KindServer: 5xx response.
	KindServer
	// KindClient: 4xx response.
	KindClient
	// KindTimeout: the call did not settle within its timeout.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified request failure.
type Error struct {
	Kind   Kind
	Status int // 0 unless Kind is KindServer or KindClient
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	target := e.Method + " " + e.URL
	if e.Method == "" && e.URL == "" {
		target = "call"
	}
	switch {
	case e.Status != 0:
		return fmt.Sprintf("request: %s: %s error (status %d)", target, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("request: %s: %s error: %v", target, e.Kind, e.Err)
	default:
		return fmt.Sprintf("request: %s: %s error", target, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure kind may succeed on a later attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindServer, KindTimeout:
		return true
	default:
		return false
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as never retryable (validation failures, explicit
// no-retry from the caller).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether err should be retried: network errors, 5xx and
// timeouts are; 4xx, cancellation, Permanent errors and unknown errors are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable()
	}
	_, ok := Classify(err)
	return ok
}

// Classify maps raw transport errors to a Kind. ok is false for errors that
// do not look like transport failures.
func Classify(err error) (Kind, bool) {
	if err == nil {
		return 0, false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork, true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindNetwork, true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork, true
	}
	return 0, false
}

// StatusKind classifies an HTTP status; ok is false for non-error statuses.
func StatusKind(status int) (Kind, bool) {
	switch {
	case status >= 500:
		return KindServer, true
	case status >= 400:
		return KindClient, true
	default:
		return 0, false
	}
}
