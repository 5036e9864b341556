package conn

import (
	"net"

	"golang.org/x/net/proxy"

	"github.com/pollhttp/pollhttp/httperr"
)

// dialSOCKS5 negotiates a SOCKS5 tunnel to host:port over an already
// established connection to the proxy. Unlike the CONNECT tunnel, the
// SOCKS5 handshake is performed in one blocking step via
// golang.org/x/net/proxy: its Dialer contract gives us a finished,
// ready-to-use net.Conn or an error, with no intermediate point at
// which returning control to a suspendable caller would be meaningful.
func dialSOCKS5(proxyConn net.Conn, cfg *ProxyConfig, host string, port int) (net.Conn, error) {
	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}

	dialer, err := proxy.SOCKS5("tcp", net.JoinHostPort(cfg.Host, itoa(cfg.Port)), auth, existingConnDialer{proxyConn})
	if err != nil {
		return nil, httperr.NewConnectionClosed("socks5", "failed to configure SOCKS5 dialer", err)
	}

	target := net.JoinHostPort(host, itoa(port))
	tunneled, err := dialer.Dial("tcp", target)
	if err != nil {
		return nil, httperr.NewConnectionClosed("socks5", "SOCKS5 handshake failed", err).WithAddr(target)
	}
	return tunneled, nil
}

// existingConnDialer adapts an already-dialed net.Conn to proxy.Dialer
// so golang.org/x/net/proxy performs its handshake over the connection
// we already established, instead of opening a second one.
type existingConnDialer struct {
	conn net.Conn
}

func (d existingConnDialer) Dial(network, addr string) (net.Conn, error) {
	return d.conn, nil
}
