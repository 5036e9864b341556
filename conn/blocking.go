package conn

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/headers"
	"github.com/pollhttp/pollhttp/internal/ioready"
	"github.com/pollhttp/pollhttp/internal/spool"
)

// Blocking wraps a Connection's suspendable methods with an ordinary
// blocking API, driven by a single goroutine parked in unix.Poll
// between steps. It is the only part of this module that uses
// golang.org/x/sys/unix directly -- everywhere else, readiness is
// surfaced as data (a PollRequest), not waited on.
type Blocking struct {
	c       *Connection
	timeout time.Duration
}

// NewBlocking wraps c. timeout bounds each individual poll wait; zero
// means wait indefinitely.
func NewBlocking(c *Connection, timeout time.Duration) *Blocking {
	return &Blocking{c: c, timeout: timeout}
}

// drive repeatedly invokes step until it stops returning a pending
// PollRequest, parking in unix.Poll in between.
func drive[T any](b *Blocking, step func() ioready.Outcome[T]) (T, error) {
	for {
		out := step()
		if out.Err != nil {
			var zero T
			return zero, out.Err
		}
		if out.Pending == nil {
			return out.Value, nil
		}
		if err := b.wait(out.Pending); err != nil {
			var zero T
			return zero, err
		}
	}
}

func (b *Blocking) wait(req *ioready.PollRequest) error {
	var events int16
	if req.Interest&ioready.Readable != 0 {
		events |= unix.POLLIN
	}
	if req.Interest&ioready.Writable != 0 {
		events |= unix.POLLOUT
	}

	fds := []unix.PollFd{{Fd: int32(req.FD), Events: events}}
	timeoutMs := -1
	if b.timeout > 0 {
		timeoutMs = int(b.timeout / time.Millisecond)
	}

	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return httperr.NewConnectionClosed("poll", "poll failed", err)
		}
		if n == 0 {
			return httperr.NewConnectionClosed("poll", "timed out waiting for socket readiness", nil)
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return httperr.NewConnectionClosed("poll", "socket reported an error condition", nil)
		}
		return nil
	}
}

// Connect blocks until the connection (and any proxy tunnel / TLS
// upgrade) is fully established.
func (b *Blocking) Connect() error {
	_, err := drive(b, b.c.Connect)
	return err
}

// SendRequest blocks until the request has been fully written.
func (b *Blocking) SendRequest(method, path string, h *headers.Headers, body *Body, expect100 bool) error {
	_, err := drive(b, func() ioready.Outcome[struct{}] {
		return b.c.SendRequest(method, path, h, body, expect100)
	})
	return err
}

// Write blocks until buf has been fully written as request body data.
func (b *Blocking) Write(buf []byte) error {
	_, err := drive(b, func() ioready.Outcome[struct{}] {
		return b.c.Write(buf)
	})
	return err
}

// ReadResponse blocks until the next response's status line and
// headers have been fully read.
func (b *Blocking) ReadResponse() (*Response, error) {
	return drive(b, b.c.ReadResponse)
}

// Read blocks until up to n bytes of body data are available.
func (b *Blocking) Read(n int) ([]byte, error) {
	return drive(b, func() ioready.Outcome[[]byte] {
		return b.c.Read(n)
	})
}

// ReadInto blocks until buf has been filled (partially, at end of
// body) with response body data.
func (b *Blocking) ReadInto(buf []byte) (int, error) {
	return drive(b, func() ioready.Outcome[int] {
		return b.c.ReadInto(buf)
	})
}

// ReadAll blocks until the entire response body has been read.
func (b *Blocking) ReadAll() ([]byte, error) {
	return drive(b, b.c.ReadAll)
}

// Discard blocks until the entire response body has been read and
// thrown away.
func (b *Blocking) Discard() error {
	_, err := drive(b, b.c.Discard)
	return err
}

// ReadAllSpooled blocks until the entire response body has been read
// into a spool.Spool, spilling to disk past memLimit bytes.
func (b *Blocking) ReadAllSpooled(memLimit int64) (*spool.Spool, error) {
	return drive(b, func() ioready.Outcome[*spool.Spool] {
		return b.c.ReadAllSpooled(memLimit)
	})
}
