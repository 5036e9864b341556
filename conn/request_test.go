package conn_test

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollhttp/pollhttp/conn"
)

func TestWriteRejectsExcessBodyData(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		buf := make([]byte, 4)
		_, _ = r.Read(buf)
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	})

	b := dialBlocking(t, ln)
	size := int64(4)
	require.NoError(t, b.SendRequest("PUT", "/upload", nil, &conn.Body{Following: &size}, false))

	err := b.Write([]byte("way too long"))
	require.Error(t, err)
}

func TestWriteSplitAcrossMultipleCalls(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		buf := make([]byte, 8)
		total := 0
		for total < 8 {
			n, err := r.Read(buf[total:])
			if err != nil {
				break
			}
			total += n
		}
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	b := dialBlocking(t, ln)
	size := int64(8)
	require.NoError(t, b.SendRequest("PUT", "/upload", nil, &conn.Body{Following: &size}, false))
	require.NoError(t, b.Write([]byte("abcd")))
	require.NoError(t, b.Write([]byte("efgh")))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestInformationalResponsesAreSkipped(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 103 Early Hints\r\n\r\n"))
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
	})

	b := dialBlocking(t, ln)
	require.NoError(t, b.SendRequest("GET", "/", nil, nil, false))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "hi", string(body))
}

func TestConnectFailsAgainstClosedPort(t *testing.T) {
	ln := newLoopbackListener(t)
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := conn.New(conn.Options{
		Host:        host,
		Port:        port,
		ConnTimeout: 200 * time.Millisecond,
	})
	b := conn.NewBlocking(c, time.Second)
	err = b.Connect()
	require.Error(t, err)
}
