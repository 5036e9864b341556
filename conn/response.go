package conn

import (
	"strconv"
	"strings"
	"time"

	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/headers"
	"github.com/pollhttp/pollhttp/internal/ioready"
	"github.com/pollhttp/pollhttp/internal/wire"
)

const (
	respPhaseStart = iota
	respPhaseStatus
	respPhaseHeader
)

// responseReadState is the resumable progress of ReadResponse across
// however many 1xx status lines precede the final one.
type responseReadState struct {
	phase     int
	status    wire.StatusLine
	ttfbStart time.Time
}

// ReadResponse reads the next response's status line and headers. The
// body is not read here; consume it afterward with ReadAll or Discard,
// or with Read/ReadInto until they return an empty result, even if the
// body is empty. A 100 Continue response returned for an Expect:
// 100-continue request has no body to read.
func (c *Connection) ReadResponse() ioready.Outcome[*Response] {
	if len(c.pending) == 0 {
		return ioready.Fail[*Response](httperr.NewStateError("read_response", "no pending requests"))
	}
	if c.inRemaining != nil {
		return ioready.Fail[*Response](httperr.NewStateError("read_response", "previous response not read completely"))
	}

	head := c.pending[0]

	for {
		switch c.respRead.phase {
		case respPhaseStart:
			c.respRead.ttfbStart = time.Now()
			c.respRead.phase = respPhaseStatus

		case respPhaseStatus:
			out := c.stepReadUntil([]byte("\r\n"), MaxLineSize, "server sent ridiculously long status line")
			if out.IsPending() {
				return ioready.Outcome[*Response]{Pending: out.Pending}
			}
			if out.Err != nil {
				c.respRead.phase = respPhaseStart
				return ioready.Fail[*Response](out.Err)
			}
			if c.timer != nil && !c.respRead.ttfbStart.IsZero() {
				c.timer.RecordTTFB(time.Since(c.respRead.ttfbStart))
			}
			sl, err := wire.ParseStatusLine(trimCRLF(out.Value))
			if err != nil {
				c.respRead.phase = respPhaseStart
				return ioready.Fail[*Response](err)
			}
			c.log.Debugf("read_response: got %d %s", sl.Status, sl.Reason)
			c.respRead.status = sl
			c.respRead.phase = respPhaseHeader

		case respPhaseHeader:
			out := c.stepReadHeaderBlock()
			if out.IsPending() {
				return ioready.Outcome[*Response]{Pending: out.Pending}
			}
			if out.Err != nil {
				c.respRead.phase = respPhaseStart
				return ioready.Fail[*Response](out.Err)
			}
			h, err := wire.ParseHeaderBlock(out.Value)
			if err != nil {
				c.respRead.phase = respPhaseStart
				return ioready.Fail[*Response](err)
			}

			status := c.respRead.status
			c.respRead = responseReadState{}

			if status.Status < 100 || status.Status > 199 {
				resp := c.finishReadResponse(head, status, h)
				if c.timer != nil {
					c.lastMetrics = c.timer.Metrics()
				}
				return ioready.Ready(resp)
			}
			// 1xx: if we're waiting for an explicit 100-continue,
			// stop here; otherwise this is an informational response
			// we must skip and read the next status line.
			if head.PendingBodySize != nil && status.Status == 100 {
				return ioready.Ready(c.finishReadResponse(head, status, h))
			}
			c.respRead.phase = respPhaseStatus
		}
	}
}

// stepReadHeaderBlock reads a header block, special-casing an
// immediately empty block (the next two bytes are the blank line
// terminator) so that searching for "\r\n\r\n" never has to scan into
// body data that may not contain that sequence at all.
func (c *Connection) stepReadHeaderBlock() ioready.Outcome[string] {
	if c.rbuf.Len() < 2 {
		out := c.stepFill(2)
		if out.IsPending() {
			return ioready.Outcome[string]{Pending: out.Pending}
		}
		if out.Err != nil {
			return ioready.Fail[string](out.Err)
		}
	}
	if c.rbuf.Len() >= 2 {
		b := c.rbuf.Bytes()
		if b[0] == '\r' && b[1] == '\n' {
			c.rbuf.Consume(2)
			return ioready.Ready("")
		}
	}
	return c.stepReadUntil([]byte("\r\n\r\n"), MaxHeaderSize, "server sent ridiculously long header")
}

// stepFill ensures at least n bytes are buffered, compacting and
// performing non-blocking reads as needed.
func (c *Connection) stepFill(n int) ioready.Outcome[struct{}] {
	for c.rbuf.Len() < n {
		c.rbuf.Compact()
		_, pending, err := c.tryFillBuffer()
		if err != nil {
			return ioready.Fail[struct{}](err)
		}
		if pending != nil {
			return ioready.Outcome[struct{}]{Pending: pending}
		}
	}
	return ioready.Ready(struct{}{})
}

// finishReadResponse applies the status/header-dependent framing rules
// and returns the Response descriptor. It mutates c.pending,
// c.outRemaining, c.inRemaining and c.encoding.
func (c *Connection) finishReadResponse(head pendingRequest, status wire.StatusLine, h *headers.Headers) *Response {
	respHeaders := h

	// Handle an expected 100-continue: move the queue head into
	// outRemaining so Write can proceed. The queue entry SendRequest
	// pushed is popped here -- finishWrite pushes a fresh entry once the
	// body itself has been sent, to be popped in turn once its response
	// is read, so there is never more than one entry per request.
	if status.Status == 100 {
		if c.outRemaining != nil && c.outRemaining.WaitingFor100 {
			c.outRemaining = &outboundRemainder{Method: head.Method, Path: head.Path, Remaining: *head.PendingBodySize}
		}
		c.popFinishedRequest()
		return &Response{Method: head.Method, Path: head.Path, Status: status.Status, Reason: status.Reason, Headers: respHeaders, Length: 0}
	}

	if head.PendingBodySize != nil {
		// A final status arrived while we were waiting for
		// 100-continue: the server declined the chance to ask for the
		// body. Clear the pending send, but keep the queue entry; it
		// is popped when the (bodyless, per the rules below) body read
		// completes.
		c.outRemaining = nil
	}

	tc := strings.ToLower(respHeaders.GetDefault("Transfer-Encoding", ""))
	switch {
	case tc == "chunked":
		c.encoding = encodingChunked
		c.encodingErr = nil
		n := int64(0)
		c.inRemaining = &n
	case tc != "" && tc != "identity":
		c.encoding = encodingDeferredError
		c.encodingErr = httperr.NewInvalidResponse("read_response", "cannot handle "+tc+" encoding")
		n := int64(0)
		c.inRemaining = &n
	default:
		c.encoding = encodingIdentity
		c.encodingErr = nil
	}

	var bodyLength int64 = -1
	noContentByRFC := status.Status == 204 || status.Status == 304 ||
		(status.Status >= 100 && status.Status < 200) || head.Method == "HEAD"

	switch {
	case noContentByRFC:
		bodyLength = 0
		n := int64(0)
		c.inRemaining = &n
		c.encoding = encodingIdentity
		c.encodingErr = nil
	case c.encoding == encodingChunked:
		// length is not known ahead of time.
	case c.encoding != encodingDeferredError && !respHeaders.Has("Content-Length"):
		c.encoding = encodingDeferredError
		c.encodingErr = httperr.NewUnsupportedResponse("read_response", "no content-length and no chunked encoding")
		n := int64(0)
		c.inRemaining = &n
	default:
		if c.encoding != encodingDeferredError {
			cl, err := strconv.ParseInt(respHeaders.GetDefault("Content-Length", "0"), 10, 64)
			if err != nil || cl < 0 {
				c.encoding = encodingDeferredError
				c.encodingErr = httperr.NewInvalidResponse("read_response", "invalid Content-Length")
				n := int64(0)
				c.inRemaining = &n
			} else {
				c.inRemaining = &cl
				bodyLength = cl
			}
		}
	}

	return &Response{Method: head.Method, Path: head.Path, Status: status.Status, Reason: status.Reason, Headers: respHeaders, Length: bodyLength}
}
