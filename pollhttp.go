// Package pollhttp provides a non-blocking, suspendable HTTP/1.1 client
// engine: every operation that would otherwise block on the network
// instead returns a description of the readiness it is waiting on, so
// callers can drive many connections from a single goroutine.
package pollhttp

import (
	"time"

	"github.com/pollhttp/pollhttp/conn"
	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/headers"
	"github.com/pollhttp/pollhttp/internal/ioready"
	"github.com/pollhttp/pollhttp/internal/metrics"
	"github.com/pollhttp/pollhttp/internal/spool"
)

// Version is the current version of the pollhttp library.
const Version = "1.0.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}

// Re-export the core types so callers only need to import this
// package for everyday use.
type (
	// Options controls how a Connection dials and frames requests.
	Options = conn.Options

	// ProxyConfig describes an upstream CONNECT or SOCKS5 proxy.
	ProxyConfig = conn.ProxyConfig

	// Headers is a case-insensitive, order-preserving header set.
	Headers = headers.Headers

	// Body is a request body: either fully buffered (Inline) or
	// declared up front and supplied afterward via Write (Following).
	Body = conn.Body

	// Response describes a received status line, headers, and what is
	// known about the body that follows.
	Response = conn.Response

	// Interest is a readiness condition a PollRequest waits on.
	Interest = ioready.Interest

	// PollRequest describes the file descriptor and readiness an
	// in-progress operation is suspended on.
	PollRequest = ioready.PollRequest

	// Outcome is the result of a single suspendable step.
	Outcome[T any] = ioready.Outcome[T]

	// Error is a structured error with a machine-readable Kind.
	Error = httperr.Error

	// ErrorKind classifies an Error.
	ErrorKind = httperr.Kind

	// Connection is a single suspendable HTTP/1.1 connection.
	Connection = conn.Connection

	// Blocking wraps a Connection with an ordinary blocking API.
	Blocking = conn.Blocking

	// Spool accumulates a response body, spilling to disk past a
	// configured memory threshold.
	Spool = spool.Spool

	// Metrics captures per-connection dial/handshake/TTFB timing.
	Metrics = metrics.Metrics
)

const (
	Readable = ioready.Readable
	Writable = ioready.Writable

	KindState               = httperr.KindState
	KindExcessBodyData      = httperr.KindExcessBodyData
	KindInvalidResponse     = httperr.KindInvalidResponse
	KindUnsupportedResponse = httperr.KindUnsupportedResponse
	KindConnectionClosed    = httperr.KindConnectionClosed
	KindValidation          = httperr.KindValidation
)

// NewConnection creates a suspendable Connection for opts. Call its
// Connect method (directly, or via NewBlockingConnection) before
// sending any requests.
func NewConnection(opts Options) *Connection {
	return conn.New(opts)
}

// NewBlockingConnection creates a Connection and wraps it with the
// blocking façade, using timeout as the bound on each individual
// readiness wait (zero means wait indefinitely).
func NewBlockingConnection(opts Options, timeout time.Duration) *Blocking {
	return conn.NewBlocking(conn.New(opts), timeout)
}

// IsTemporary reports whether err is a transient condition (a closed
// connection, a timeout, a DNS hiccup) worth retrying with a fresh
// Connection, as opposed to a protocol or validation error.
func IsTemporary(err error) bool {
	return httperr.IsTempNetworkError(err)
}

// DefaultOptions returns sane defaults for connecting to host:port.
func DefaultOptions(host string, port int) Options {
	return Options{
		Host:             host,
		Port:             port,
		ConnTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}
