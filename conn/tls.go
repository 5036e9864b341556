package conn

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"

	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/tlsprofile"
)

// DefaultTLSUpgrader upgrades a TCP connection to TLS using crypto/tls
// directly -- the TLS stack every repository in the reference corpus
// builds on, not a third-party replacement.
type DefaultTLSUpgrader struct{}

// Upgrade performs the TLS client handshake. The handshake itself
// blocks (bounded by the deadline already set on raw, if any):
// crypto/tls considers a handshake that returns an error permanently
// failed, so there is no way to suspend and resume it the way plain
// reads and writes are suspended.
func (DefaultTLSUpgrader) Upgrade(raw net.Conn, serverName string, cfg *tls.Config) (net.Conn, error) {
	effective := cfg.Clone()
	if effective == nil {
		effective = &tls.Config{}
	}
	if effective.ServerName == "" {
		effective.ServerName = serverName
	}
	if effective.MinVersion == 0 {
		tlsprofile.ApplyVersionProfile(effective, tlsprofile.ProfileSecure)
	}

	tlsConn := tls.Client(raw, effective)
	if err := tlsConn.Handshake(); err != nil {
		return nil, httperr.NewConnectionClosed("tls_handshake", "TLS handshake failed", err).WithAddr(serverName)
	}

	if !effective.InsecureSkipVerify {
		if err := verifyHostname(tlsConn, serverName); err != nil {
			tlsConn.Close()
			return nil, err
		}
	}

	return tlsConn, nil
}

// verifyHostname performs an explicit post-handshake hostname check,
// mirroring the original client's explicit match-hostname step after
// wrap_socket rather than relying solely on whatever verification
// tls.Config.InsecureSkipVerify implies.
func verifyHostname(tlsConn *tls.Conn, serverName string) error {
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return httperr.NewConnectionClosed("tls_verify", "server presented no certificate", nil)
	}
	if err := state.PeerCertificates[0].VerifyHostname(serverName); err != nil {
		return httperr.NewConnectionClosed("tls_verify", "certificate does not match hostname "+serverName, err)
	}
	return nil
}

func (c *Connection) upgradeTLS() error {
	upgrader := c.opts.TLSUpgrader
	if upgrader == nil {
		upgrader = DefaultTLSUpgrader{}
	}

	serverName := c.opts.TLSConfig.ServerName
	if serverName == "" {
		serverName = c.opts.Host
	}

	timeout := c.opts.HandshakeTimeout
	if timeout == 0 {
		timeout = connTimeoutDefault
	}
	_ = c.tcpConn.SetDeadline(timeTime(timeout))
	defer c.tcpConn.SetDeadline(time.Time{})

	tlsStart := time.Now()
	upgraded, err := upgrader.Upgrade(c.tcpConn, serverName, c.opts.TLSConfig)
	if err != nil {
		c.Disconnect()
		return err
	}
	if c.timer != nil {
		c.timer.RecordTLSHandshake(time.Since(tlsStart))
	}

	c.activeConn = upgraded
	if tlsConn, ok := upgraded.(*tls.Conn); ok {
		state := tlsConn.ConnectionState()
		c.tlsState = &state
	}
	return nil
}

func timeTime(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// PeerCertificate returns the leaf certificate the server presented, or
// nil if the connection is not TLS.
func (c *Connection) PeerCertificate() *x509.Certificate {
	if c.tlsState == nil || len(c.tlsState.PeerCertificates) == 0 {
		return nil
	}
	return c.tlsState.PeerCertificates[0]
}

// PeerCipher returns the human-readable name of the negotiated cipher
// suite, or "" if the connection is not TLS.
func (c *Connection) PeerCipher() string {
	if c.tlsState == nil {
		return ""
	}
	return tlsprofile.CipherSuiteName(c.tlsState.CipherSuite)
}

// PeerCertificateBinary returns the leaf certificate's raw DER bytes,
// or nil if the connection is not TLS -- the binary form of
// PeerCertificate, for callers that want the wire representation rather
// than a parsed x509.Certificate.
func (c *Connection) PeerCertificateBinary() []byte {
	cert := c.PeerCertificate()
	if cert == nil {
		return nil
	}
	return cert.Raw
}
