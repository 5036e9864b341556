package conn_test

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollhttp/pollhttp/conn"
	"github.com/pollhttp/pollhttp/internal/headers"
)

// serveOnce accepts a single connection on ln and runs handler against
// it, in the background, closing the connection when handler returns.
func serveOnce(t *testing.T, ln net.Listener, handler func(c net.Conn, r *bufio.Reader)) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c, bufio.NewReader(c))
	}()
}

func newLoopbackListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func dialBlocking(t *testing.T, ln net.Listener) *conn.Blocking {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := conn.New(conn.Options{
		Host:        host,
		Port:        port,
		ConnTimeout: 5 * time.Second,
	})
	b := conn.NewBlocking(c, 5*time.Second)
	require.NoError(t, b.Connect())
	t.Cleanup(func() { c.Disconnect() })
	return b
}

func TestBodylessGET(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	})

	b := dialBlocking(t, ln)
	require.NoError(t, b.SendRequest("GET", "/", nil, nil, false))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 204, resp.Status)
	require.Equal(t, int64(0), resp.Length)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestInlineBodyWithContentLength(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		body := "hello world"
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body))
	})

	b := dialBlocking(t, ln)
	h := headers.New()
	h.Set("Content-Type", "text/plain")
	require.NoError(t, b.SendRequest("POST", "/echo", h, &conn.Body{Inline: []byte("ping")}, false))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, int64(11), resp.Length)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func Test100ContinueAccepted(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
		buf := make([]byte, 4)
		_, _ = r.Read(buf)
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	b := dialBlocking(t, ln)
	size := int64(4)
	require.NoError(t, b.SendRequest("PUT", "/upload", nil, &conn.Body{Following: &size}, true))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 100, resp.Status)

	require.NoError(t, b.Write([]byte("data")))

	resp2, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp2.Status)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func Test100ContinueRejected(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n"))
	})

	b := dialBlocking(t, ln)
	size := int64(4)
	require.NoError(t, b.SendRequest("PUT", "/upload", nil, &conn.Body{Following: &size}, true))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 417, resp.Status)

	require.NoError(t, b.Discard())
}

func TestChunkedDecode(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"5\r\nhello\r\n6\r\n, worl\r\n1\r\nd\r\n0\r\n\r\n"))
	})

	b := dialBlocking(t, ln)
	require.NoError(t, b.SendRequest("GET", "/stream", nil, nil, false))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, int64(-1), resp.Length)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(body))
}

func TestReadAllBodyLargerThanBufferSize(t *testing.T) {
	ln := newLoopbackListener(t)
	want := make([]byte, conn.DefaultBufferSize*3+777)
	for i := range want {
		want[i] = byte('a' + i%26)
	}
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(want)) + "\r\n\r\n"))
		c.Write(want)
	})

	b := dialBlocking(t, ln)
	require.NoError(t, b.SendRequest("GET", "/big", nil, nil, false))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, int64(len(want)), resp.Length)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, want, body)
}

func TestReadAllSpooledSpillsPastMemoryLimit(t *testing.T) {
	ln := newLoopbackListener(t)
	want := make([]byte, 9000)
	for i := range want {
		want[i] = byte('x')
	}
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(want)) + "\r\n\r\n"))
		c.Write(want)
	})

	b := dialBlocking(t, ln)
	require.NoError(t, b.SendRequest("GET", "/big", nil, nil, false))

	_, err := b.ReadResponse()
	require.NoError(t, err)

	spool, err := b.ReadAllSpooled(1024)
	require.NoError(t, err)
	defer spool.Close()

	require.True(t, spool.Spilled())
	require.Equal(t, int64(len(want)), spool.Size())

	r, err := spool.Reader()
	require.NoError(t, err)
	defer r.Close()

	got := make([]byte, len(want))
	total := 0
	for total < len(got) {
		n, err := r.Read(got[total:])
		total += n
		if err != nil {
			break
		}
	}
	require.Equal(t, want, got)
}

func TestPipeliningAfter100ContinueLeavesNoPhantomQueueEntry(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
		buf := make([]byte, 4)
		_, _ = r.Read(buf)
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))

		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nsecond"))
	})

	b := dialBlocking(t, ln)
	size := int64(4)
	require.NoError(t, b.SendRequest("PUT", "/upload", nil, &conn.Body{Following: &size}, true))

	resp, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 100, resp.Status)

	require.NoError(t, b.Write([]byte("data")))

	resp2, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp2.Status)

	body, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	require.NoError(t, b.SendRequest("GET", "/next", nil, nil, false))

	resp3, err := b.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp3.Status)

	body3, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "second", string(body3))
}

func TestInvalidStatusLine(t *testing.T) {
	ln := newLoopbackListener(t)
	serveOnce(t, ln, func(c net.Conn, r *bufio.Reader) {
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		c.Write([]byte("NOT A STATUS LINE\r\n\r\n"))
	})

	b := dialBlocking(t, ln)
	require.NoError(t, b.SendRequest("GET", "/", nil, nil, false))

	_, err := b.ReadResponse()
	require.Error(t, err)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
