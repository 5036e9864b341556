package conn

import (
	"net"
	"time"

	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/ioready"
	"github.com/pollhttp/pollhttp/internal/metrics"
	"github.com/pollhttp/pollhttp/internal/wire"
)

// connect phases. The initial TCP dial and the final TLS handshake are
// performed synchronously (bounded by ConnTimeout / HandshakeTimeout);
// the CONNECT-tunnel negotiation in between is fully suspendable, since
// it reuses the same stepSend/stepReadUntil machinery request/response
// bodies do.
const (
	phaseNotStarted = iota
	phaseTunnelSend
	phaseTunnelStatus
	phaseTunnelHeader
	phaseTLSUpgrade
	phaseDone
)

// Connect establishes the TCP connection (through opts.Proxy, if set),
// negotiates a CONNECT tunnel if needed, and performs the TLS upgrade if
// opts.TLSConfig is set. It is idempotent: once phaseDone is reached
// further calls return immediately.
func (c *Connection) Connect() ioready.Outcome[struct{}] {
	for {
		switch c.connectPhase {
		case phaseNotStarted:
			if err := c.dialTCP(); err != nil {
				return ioready.Fail[struct{}](err)
			}
			c.resetPerConnectionState()
			if c.opts.Proxy != nil && c.opts.Proxy.Scheme == ProxyConnect {
				target := net.JoinHostPort(c.opts.Host, itoa(c.opts.effectivePort()))
				buf, err := wire.EncodeLatin1("CONNECT " + target + " HTTP/1.0\r\n\r\n")
				if err != nil {
					return ioready.Fail[struct{}](err)
				}
				c.sendOp = sendState{active: true, buf: buf}
				c.connectPhase = phaseTunnelSend
				continue
			}
			c.connectPhase = phaseTLSUpgrade
			continue

		case phaseTunnelSend:
			out := c.stepSend(nil)
			if out.IsPending() {
				return ioready.Outcome[struct{}]{Pending: out.Pending}
			}
			if out.Err != nil {
				return ioready.Fail[struct{}](out.Err)
			}
			c.connectPhase = phaseTunnelStatus
			continue

		case phaseTunnelStatus:
			out := c.stepReadUntil([]byte("\r\n"), MaxLineSize, "proxy sent ridiculously long status line")
			if out.IsPending() {
				return ioready.Outcome[struct{}]{Pending: out.Pending}
			}
			if out.Err != nil {
				return ioready.Fail[struct{}](out.Err)
			}
			sl, err := wire.ParseStatusLine(trimCRLF(out.Value))
			if err != nil {
				return ioready.Fail[struct{}](err)
			}
			c.tunnelStatus = sl
			c.connectPhase = phaseTunnelHeader
			continue

		case phaseTunnelHeader:
			out := c.stepReadUntil([]byte("\r\n\r\n"), MaxHeaderSize, "proxy sent ridiculously long header")
			if out.IsPending() {
				return ioready.Outcome[struct{}]{Pending: out.Pending}
			}
			if out.Err != nil {
				return ioready.Fail[struct{}](out.Err)
			}
			if c.tunnelStatus.Status != 200 {
				c.Disconnect()
				return ioready.Fail[struct{}](httperr.NewConnectionClosed("tunnel", "tunnel connection failed: "+itoa(c.tunnelStatus.Status)+" "+c.tunnelStatus.Reason, nil))
			}
			c.connectPhase = phaseTLSUpgrade
			continue

		case phaseTLSUpgrade:
			if c.opts.TLSConfig != nil {
				if err := c.upgradeTLS(); err != nil {
					return ioready.Fail[struct{}](err)
				}
			}
			c.connectPhase = phaseDone
			continue

		case phaseDone:
			return ioready.Ready(struct{}{})
		}
	}
}

func (c *Connection) dialTCP() error {
	c.timer = metrics.NewTimer()
	dialStart := time.Now()

	timeout := c.opts.ConnTimeout
	if timeout == 0 {
		timeout = connTimeoutDefault
	}

	dialHost, dialPort := c.opts.Host, c.opts.effectivePort()
	if c.opts.Proxy != nil {
		dialHost, dialPort = c.opts.Proxy.Host, c.opts.Proxy.Port
	}

	tcpConn, err := net.DialTimeout("tcp", net.JoinHostPort(dialHost, itoa(dialPort)), timeout)
	if err != nil {
		return httperr.NewConnectionClosed("dial", "failed to connect", err).WithAddr(net.JoinHostPort(dialHost, itoa(dialPort)))
	}
	c.timer.RecordTCPConnect(time.Since(dialStart))

	if c.opts.Proxy != nil && c.opts.Proxy.Scheme == ProxySOCKS5 {
		tunneled, err := dialSOCKS5(tcpConn, c.opts.Proxy, c.opts.Host, c.opts.effectivePort())
		if err != nil {
			tcpConn.Close()
			return err
		}
		tcpConn = tunneled
	}

	fd, err := fdOf(tcpConn)
	if err != nil {
		tcpConn.Close()
		return httperr.NewConnectionClosed("dial", "could not obtain file descriptor", err)
	}

	c.tcpConn = tcpConn
	c.activeConn = tcpConn
	c.fd = fd
	return nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
