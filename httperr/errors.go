// Package httperr provides the structured error taxonomy used by the
// pollhttp connection state machine.
package httperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind identifies which member of the closed error taxonomy an Error
// belongs to.
type Kind string

const (
	// KindState means an operation was attempted while the connection
	// was not in a state that permits it (e.g. writing body data with
	// no active request, or reading a response before one was sent).
	KindState Kind = "state"
	// KindExcessBodyData means a caller tried to write more request body
	// data than the declared Content-Length allows.
	KindExcessBodyData Kind = "excess_body_data"
	// KindInvalidResponse means the server sent bytes that do not form a
	// syntactically valid HTTP/1.1 response.
	KindInvalidResponse Kind = "invalid_response"
	// KindUnsupportedResponse means the response is syntactically valid
	// but uses a framing or version this engine does not implement.
	KindUnsupportedResponse Kind = "unsupported_response"
	// KindConnectionClosed means the peer closed the TCP connection
	// unexpectedly, or the local socket itself could not be used.
	KindConnectionClosed Kind = "connection_closed"
	// KindValidation means a caller-supplied argument violated a
	// documented precondition.
	KindValidation Kind = "validation"
)

// Error is a structured error carrying the taxonomy Kind plus enough
// context to explain where and why it occurred.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Cause     error
	Addr      string
	Timestamp time.Time
}

// Error implements the error interface. Format: [kind] op addr: message: cause
func (e *Error) Error() string {
	s := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Addr != "" {
		s += " " + e.Addr
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target shares this error's Kind, so callers can use
// errors.Is(err, &httperr.Error{Kind: httperr.KindState}) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// NewStateError reports an operation attempted in the wrong connection state.
func NewStateError(op, message string) *Error {
	return newError(KindState, op, message, nil)
}

// NewExcessBodyData reports a write beyond the declared request body length.
func NewExcessBodyData(op, message string) *Error {
	return newError(KindExcessBodyData, op, message, nil)
}

// NewInvalidResponse reports malformed bytes on the wire.
func NewInvalidResponse(op, message string) *Error {
	return newError(KindInvalidResponse, op, message, nil)
}

// NewUnsupportedResponse reports a well-formed response this engine cannot
// frame (missing length with no chunking, a non-HTTP/1 status line, ...).
func NewUnsupportedResponse(op, message string) *Error {
	return newError(KindUnsupportedResponse, op, message, nil)
}

// NewConnectionClosed reports the peer or local socket going away.
func NewConnectionClosed(op, message string, cause error) *Error {
	return newError(KindConnectionClosed, op, message, cause)
}

// NewValidationError reports a violated caller-side precondition.
func NewValidationError(op, message string) *Error {
	return newError(KindValidation, op, message, nil)
}

// WithAddr attaches the remote address to an error for logging/debugging.
func (e *Error) WithAddr(addr string) *Error {
	e.Addr = addr
	return e
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTempNetworkError reports whether err represents a potentially
// transient network problem, mirroring the classification the original
// suspendable client used to decide whether a retry is worth attempting:
// timeouts, resets, closed connections, and the subset of DNS and TLS
// failures that commonly indicate a flaky network rather than a
// permanent condition.
func IsTempNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *Error
	if errors.As(err, &httpErr) && httpErr.Kind == KindConnectionClosed {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary || dnsErr.IsNotFound
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return false
}
