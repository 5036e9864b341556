package pollhttp_test

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollhttp/pollhttp"
)

func TestDefaultOptions(t *testing.T) {
	opts := pollhttp.DefaultOptions("example.com", 8080)
	require.Equal(t, "example.com", opts.Host)
	require.Equal(t, 8080, opts.Port)
	require.Equal(t, 10*time.Second, opts.ConnTimeout)
	require.Equal(t, 10*time.Second, opts.HandshakeTimeout)
}

func TestGetVersion(t *testing.T) {
	require.Equal(t, pollhttp.Version, pollhttp.GetVersion())
	require.NotEmpty(t, pollhttp.GetVersion())
}

func TestNewBlockingConnectionRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	opts := pollhttp.DefaultOptions(host, port)
	b := pollhttp.NewBlockingConnection(opts, 5*time.Second)
	require.NoError(t, b.Connect())
	require.NoError(t, b.SendRequest("GET", "/", nil, nil, false))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestIsTemporary(t *testing.T) {
	require.False(t, pollhttp.IsTemporary(nil))
}
