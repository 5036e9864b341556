// Package conn implements the suspendable HTTP/1.1 connection state
// machine: a single TCP (optionally TLS, optionally proxy-tunneled)
// socket that frames requests and responses without ever blocking on
// the network. Every method that could block instead returns a
// PollRequest describing the readiness it needs; callers drive the
// connection either directly (an event loop) or through the Blocking
// façade in blocking.go.
package conn

import (
	"bytes"
	"crypto/tls"
	"net"
	"time"

	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/headers"
	"github.com/pollhttp/pollhttp/internal/ioready"
	"github.com/pollhttp/pollhttp/internal/metrics"
	"github.com/pollhttp/pollhttp/internal/netutil"
	"github.com/pollhttp/pollhttp/internal/rbuf"
	"github.com/pollhttp/pollhttp/internal/spool"
	"github.com/pollhttp/pollhttp/internal/wire"
)

// bodyEncoding identifies how the active response body is framed.
type bodyEncoding int

const (
	encodingNone bodyEncoding = iota
	encodingIdentity
	encodingChunked
	// encodingDeferredError means the encoding could not be determined
	// (or is not supported); the error is only surfaced when the
	// caller actually tries to read the body, so status and headers
	// remain usable.
	encodingDeferredError
)

// pendingRequest is one FIFO entry tracking a request whose response has
// not yet been fully read. PendingBodySize is non-nil only while the
// entry was queued in anticipation of a still-unsent Expect: 100-continue
// body.
type pendingRequest struct {
	Method          string
	Path            string
	PendingBodySize *int64
}

// outboundRemainder tracks an in-progress request body send.
type outboundRemainder struct {
	Method        string
	Path          string
	Remaining     int64
	WaitingFor100 bool
}

// Response describes a received status line, headers, and what is known
// about the body that follows. The body itself is read separately via
// Connection.Read / ReadInto / ReadAll / Discard.
type Response struct {
	Method  string
	Path    string
	Status  int
	Reason  string
	Headers *headers.Headers
	// Length is the known body length, or -1 if it is not known ahead
	// of time (chunked encoding).
	Length int64
}

// TLSUpgrader upgrades a plain TCP connection to TLS. DefaultTLSUpgrader
// wraps crypto/tls directly; tests substitute a fake to avoid real
// handshakes.
type TLSUpgrader interface {
	Upgrade(raw net.Conn, serverName string, cfg *tls.Config) (net.Conn, error)
}

// delimReadState is the resumable progress of a single "read until
// delimiter" operation. Only one such read is ever active on a
// Connection at a time, mirroring the single cooperative state machine
// per connection.
type delimReadState struct {
	active  bool
	parts   [][]byte
	maxSize int
	tooLong string
}

// sendState is the resumable progress of a single "flush this buffer to
// the socket" low-level send.
type sendState struct {
	active bool
	buf    []byte
}

// Connection is a single HTTP/1.1 connection to one host, speaking the
// wire protocol directly and never blocking the calling goroutine.
type Connection struct {
	opts Options
	log  Logger

	// tcpConn is the raw TCP (or proxy-tunneled TCP) socket; its file
	// descriptor is what the blocking façade and PollRequest values
	// identify. activeConn is the conn actually used for application
	// data: tcpConn itself, or the *tls.Conn wrapping it once the TLS
	// upgrade has completed.
	tcpConn    net.Conn
	activeConn net.Conn
	fd         int
	tlsState   *tls.ConnectionState

	rbuf *rbuf.Buffer

	pending []pendingRequest

	outRemaining *outboundRemainder
	inRemaining  *int64
	encoding     bodyEncoding
	encodingErr  error

	delimRead  delimReadState
	sendOp     sendState
	outSend    outSendMeta
	outWrite   writeMeta
	respRead   responseReadState
	chunkRead  chunkReadState
	spoolOp    *spool.Spool
	readAllBuf []byte

	connectPhase int
	tunnelStatus wire.StatusLine

	timer       *metrics.Timer
	lastMetrics metrics.Metrics
}

// New creates a Connection that will dial opts.Host:opts.Port (or
// opts.Proxy, if set) on the first call to Connect, SendRequest, or any
// other method that implicitly connects.
func New(opts Options) *Connection {
	return &Connection{
		opts: opts,
		log:  effectiveLogger(opts.Logger),
		rbuf: rbuf.New(opts.bufferSize()),
	}
}

// Closed reports whether there is no response currently open for
// reading -- the state a freshly connected or fully-drained Connection
// is in.
func (c *Connection) Closed() bool {
	return c.inRemaining == nil
}

// ResponsePending reports whether any response -- including a
// partially-read one -- is still outstanding.
func (c *Connection) ResponsePending() bool {
	return len(c.pending) > 0
}

// Metrics returns the timing recorded as of the most recent final
// response: the dial and TLS handshake durations of the current
// connection, that response's TTFB, and TotalTime measured from the
// start of the dial.
func (c *Connection) Metrics() metrics.Metrics {
	return c.lastMetrics
}

func (c *Connection) resetPerConnectionState() {
	c.rbuf.Clear()
	c.outRemaining = nil
	c.inRemaining = nil
	c.encoding = encodingNone
	c.encodingErr = nil
	c.pending = nil
	c.delimRead = delimReadState{}
	c.sendOp = sendState{}
	c.outSend = outSendMeta{}
	c.outWrite = writeMeta{}
	c.respRead = responseReadState{}
	c.chunkRead = chunkReadState{}
	c.readAllBuf = nil
	if c.spoolOp != nil {
		c.spoolOp.Close()
		c.spoolOp = nil
	}
}

// Disconnect closes the underlying socket, if any, and resets all
// connection state. It is always safe to call, including on an
// already-disconnected Connection.
func (c *Connection) Disconnect() error {
	c.log.Debugf("disconnect: start")
	if c.tcpConn == nil {
		return nil
	}
	err := c.tcpConn.Close()
	c.tcpConn = nil
	c.activeConn = nil
	c.fd = 0
	c.tlsState = nil
	c.connectPhase = phaseNotStarted
	c.resetPerConnectionState()
	return err
}

func (c *Connection) classifyReadError(err error) error {
	if err == nil {
		return nil
	}
	return httperr.NewConnectionClosed("read", "error reading from socket", err).WithAddr(c.addr())
}

func (c *Connection) classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	return httperr.NewConnectionClosed("write", "error writing to socket", err).WithAddr(c.addr())
}

func (c *Connection) addr() string {
	if c.opts.Host == "" {
		return ""
	}
	return net.JoinHostPort(c.opts.Host, itoa(c.opts.effectivePort()))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// stepSend attempts to flush the pending send buffer to the socket
// without blocking. buf becomes that buffer only when no send is
// already active in c.sendOp; otherwise it is ignored. Call it
// repeatedly (waiting for the returned PollRequest's readiness each
// time) until it reports done.
func (c *Connection) stepSend(buf []byte) ioready.Outcome[struct{}] {
	st := &c.sendOp
	if !st.active {
		st.active = true
		st.buf = buf
	}

	for len(st.buf) > 0 {
		n, pending, err := ioready.NonblockingWrite(c.activeConn, c.fd, st.buf)
		if err != nil {
			st.active = false
			return ioready.Fail[struct{}](c.classifyWriteError(err))
		}
		if pending != nil {
			return ioready.Outcome[struct{}]{Pending: pending}
		}
		st.buf = st.buf[n:]
	}

	st.active = false
	return ioready.Ready(struct{}{})
}

// tryFillBuffer performs a single non-blocking attempt to read more
// data into the read buffer, compacting first if there is no room at
// the tail. It returns (bytesRead, pending, err). A peer that closed the
// connection is reported as err; a buffer still full after compaction
// returns (0, nil, nil).
func (c *Connection) tryFillBuffer() (int, *ioready.PollRequest, error) {
	if c.rbuf.Full() {
		c.rbuf.Compact()
	}
	tail := c.rbuf.FreeTail()
	if len(tail) == 0 {
		// Buffer is full of unconsumed data even after compaction;
		// caller is responsible for stashing it away first.
		return 0, nil, nil
	}
	n, pending, err := ioready.NonblockingRead(c.activeConn, c.fd, tail)
	if err != nil {
		return 0, nil, c.classifyReadError(err)
	}
	if pending != nil {
		return 0, pending, nil
	}
	if n == 0 {
		return 0, nil, httperr.NewConnectionClosed("read", "connection closed unexpectedly", nil).WithAddr(c.addr())
	}
	c.rbuf.Produced(n)
	return n, nil, nil
}

// stepReadUntil reads (and consumes) bytes up to and including the
// first occurrence of delim, decoded as latin1. tooLongMsg is used to
// build the InvalidResponse error if delim does not appear within
// maxSize bytes.
func (c *Connection) stepReadUntil(delim []byte, maxSize int, tooLongMsg string) ioready.Outcome[string] {
	st := &c.delimRead
	if !st.active {
		*st = delimReadState{active: true, maxSize: maxSize, tooLong: tooLongMsg}
	}
	subLen := len(delim)

	for {
		if idx, found := c.rbuf.FindDelimiter(delim); found {
			return c.finishDelimRead(idx+subLen, st)
		}

		if subLen > 1 && len(st.parts) > 0 {
			last := st.parts[len(st.parts)-1]
			tailLen := subLen - 1
			if tailLen > len(last) {
				tailLen = len(last)
			}
			prefixLen := subLen - 1
			if prefixLen > c.rbuf.Len() {
				prefixLen = c.rbuf.Len()
			}
			combined := append(append([]byte{}, last[len(last)-tailLen:]...), c.rbuf.Bytes()[:prefixLen]...)
			if bIdx := bytes.Index(combined, delim); bIdx >= 0 {
				consumeFromCurrent := bIdx + subLen - tailLen
				if consumeFromCurrent < 0 {
					consumeFromCurrent = 0
				}
				return c.finishDelimRead(consumeFromCurrent, st)
			}
		}

		if c.rbuf.Len() >= st.maxSize {
			st.active = false
			return ioready.Fail[string](httperr.NewInvalidResponse("read_until", st.tooLong))
		}

		if c.rbuf.Full() {
			c.rbuf.Compact()
			if c.rbuf.Full() {
				chunk := c.rbuf.Exhaust()
				st.parts = append(st.parts, chunk)
				st.maxSize -= len(chunk)
			}
		}

		n, pending, err := c.tryFillBuffer()
		if err != nil {
			st.active = false
			return ioready.Fail[string](err)
		}
		if pending != nil {
			return ioready.Outcome[string]{Pending: pending}
		}
		_ = n
	}
}

// finishDelimRead consumes consumeFromCurrent bytes from the current
// buffer (the tail end of the match), joins it with any stashed parts,
// decodes the result as latin1, and clears the read-until state.
func (c *Connection) finishDelimRead(consumeFromCurrent int, st *delimReadState) ioready.Outcome[string] {
	tail := make([]byte, consumeFromCurrent)
	copy(tail, c.rbuf.Bytes()[:consumeFromCurrent])
	c.rbuf.Consume(consumeFromCurrent)

	var raw []byte
	if len(st.parts) == 0 {
		raw = tail
	} else {
		raw = netutil.JoinParts(append(append([][]byte{}, st.parts...), tail))
	}
	st.active = false

	decoded, err := wire.DecodeLatin1(raw)
	if err != nil {
		return ioready.Fail[string](err)
	}
	return ioready.Ready(decoded)
}

const connTimeoutDefault = 10 * time.Second
