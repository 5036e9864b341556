package conn

import (
	"crypto/md5"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/headers"
	"github.com/pollhttp/pollhttp/internal/ioready"
	"github.com/pollhttp/pollhttp/internal/wire"
)

// Body is the request body argument to SendRequest. At most one of
// Inline and Following may be set; both nil means no body at all
// (Content-Length: 0).
type Body struct {
	// Inline is a fully known body sent as part of the request itself.
	Inline []byte
	// Following declares the length of a body that will be supplied
	// afterward via Connection.Write, without buffering it up front.
	Following *int64
}

// outSendMeta tracks bookkeeping needed after the low-level send
// completes, since a SendRequest call that suspends must not recompute
// (and re-apply the side effects of) the request on the next call.
type outSendMeta struct {
	method, path     string
	pendingBodySize  *int64
	expect100        bool
}

// SendRequest serializes and sends an HTTP/1.1 request. If headers is
// nil, an empty header set is used. Content-Length, Host,
// Accept-Encoding and (if absent) Connection are set automatically;
// Content-MD5 is computed automatically for an Inline body unless
// already present in headers.
func (c *Connection) SendRequest(method, path string, h *headers.Headers, body *Body, expect100 bool) ioready.Outcome[struct{}] {
	if c.connectPhase != phaseDone {
		if out := c.Connect(); out.IsPending() || out.Err != nil {
			return out
		}
	}
	if c.sendOp.active {
		return c.finishSendRequest()
	}

	if expect100 && (body == nil || body.Following == nil) {
		return ioready.Fail[struct{}](httperr.NewValidationError("send_request", "expect100 only allowed for a body sent separately"))
	}
	if c.outRemaining != nil {
		return ioready.Fail[struct{}](httperr.NewStateError("send_request", "body data has not been sent completely yet"))
	}

	if h == nil {
		h = headers.New()
	}

	var meta outSendMeta
	meta.method, meta.path, meta.expect100 = method, path, expect100
	var inlineBody []byte

	switch {
	case body == nil:
		h.Set("Content-Length", "0")
	case body.Following != nil:
		length := *body.Following
		h.Set("Content-Length", strconv.FormatInt(length, 10))
		if expect100 {
			h.Set("Expect", "100-continue")
			meta.pendingBodySize = &length
			c.outRemaining = &outboundRemainder{Method: method, Path: path, WaitingFor100: true}
		} else {
			c.outRemaining = &outboundRemainder{Method: method, Path: path, Remaining: length}
		}
	default:
		inlineBody = body.Inline
		h.Set("Content-Length", strconv.Itoa(len(inlineBody)))
		if !h.Has("Content-MD5") {
			sum := md5.Sum(inlineBody)
			h.Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
		}
	}

	host := c.opts.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	defaultPort := 80
	if c.opts.TLSConfig != nil {
		defaultPort = 443
	}
	if c.opts.effectivePort() == defaultPort {
		h.Set("Host", host)
	} else {
		h.Set("Host", host+":"+itoa(c.opts.effectivePort()))
	}
	h.Set("Accept-Encoding", "identity")
	if !h.Has("Connection") {
		h.Set("Connection", "keep-alive")
	}

	var sb strings.Builder
	sb.WriteString(wire.RequestLine(method, path))
	sb.WriteString("\r\n")
	sb.WriteString(wire.SerializeHeaders(h))
	sb.WriteString("\r\n\r\n")

	headerBytes, err := wire.EncodeLatin1(sb.String())
	if err != nil {
		c.outRemaining = nil
		return ioready.Fail[struct{}](err)
	}
	buf := headerBytes
	if inlineBody != nil {
		buf = append(buf, inlineBody...)
	}

	c.log.Debugf("send_request: sending %s %s", method, path)
	c.outSend = meta
	c.sendOp = sendState{active: true, buf: buf}
	return c.finishSendRequest()
}

func (c *Connection) finishSendRequest() ioready.Outcome[struct{}] {
	out := c.stepSend(nil)
	if out.IsPending() {
		return out
	}
	if out.Err != nil {
		c.outRemaining = nil
		return out
	}

	if c.outRemaining == nil || c.outSend.expect100 {
		c.pending = append(c.pending, pendingRequest{
			Method:          c.outSend.method,
			Path:            c.outSend.path,
			PendingBodySize: c.outSend.pendingBodySize,
		})
	}
	return ioready.Ready(struct{}{})
}

// writeMeta tracks the length of the in-flight Write call, needed once
// the send completes to decide whether the request body is now
// complete.
type writeMeta struct {
	method, path string
	length       int64
}

// Write sends buf as (part of) the body of the most recently sent
// request that declared its body as Following. Writing more than the
// declared length returns an ExcessBodyData error.
func (c *Connection) Write(buf []byte) ioready.Outcome[struct{}] {
	if c.sendOp.active {
		return c.finishWrite()
	}

	if c.outRemaining == nil {
		return ioready.Fail[struct{}](httperr.NewStateError("write", "no active request with pending body data"))
	}
	if c.outRemaining.WaitingFor100 {
		return ioready.Fail[struct{}](httperr.NewStateError("write", "can't write when waiting for 100-continue"))
	}
	if int64(len(buf)) > c.outRemaining.Remaining {
		return ioready.Fail[struct{}](httperr.NewExcessBodyData("write",
			"trying to write more bytes than are pending for the request body"))
	}

	c.outWrite = writeMeta{method: c.outRemaining.Method, path: c.outRemaining.Path, length: int64(len(buf))}
	c.sendOp = sendState{active: true, buf: buf}
	return c.finishWrite()
}

func (c *Connection) finishWrite() ioready.Outcome[struct{}] {
	out := c.stepSend(nil)
	if out.IsPending() || out.Err != nil {
		return out
	}

	if c.outWrite.length == c.outRemaining.Remaining {
		c.pending = append(c.pending, pendingRequest{Method: c.outWrite.method, Path: c.outWrite.path})
		c.outRemaining = nil
	} else {
		c.outRemaining.Remaining -= c.outWrite.length
	}
	return ioready.Ready(struct{}{})
}
