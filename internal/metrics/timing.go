// Package metrics captures per-connection timing information: how long
// dialing, the TLS handshake, and waiting for the first response byte
// each took.
package metrics

import (
	"fmt"
	"time"
)

// Metrics captures detailed timing information for a connection's
// most recent request/response cycle.
type Metrics struct {
	TCPConnect   time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	TotalTime    time.Duration
}

// String renders m for debug logging.
func (m Metrics) String() string {
	return fmt.Sprintf("tcp_connect=%v tls_handshake=%v ttfb=%v total=%v",
		m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime)
}

// Timer accumulates the marks needed to build a Metrics value. Calls
// that would otherwise need a "start" and a later "end" instead record
// a single duration directly, since the connection's suspendable steps
// may be called many times between logical start and end -- only the
// wall-clock delta matters, not how many poll cycles it took.
type Timer struct {
	start time.Time
	m     Metrics
}

// NewTimer starts timing a request/response cycle.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// RecordTCPConnect records how long TCP dialing took.
func (t *Timer) RecordTCPConnect(d time.Duration) {
	t.m.TCPConnect = d
}

// RecordTLSHandshake records how long the TLS handshake took.
func (t *Timer) RecordTLSHandshake(d time.Duration) {
	t.m.TLSHandshake = d
}

// RecordTTFB records the time-to-first-byte duration as measured by the
// caller: how long it waited for the first response status line.
func (t *Timer) RecordTTFB(d time.Duration) {
	t.m.TTFB = d
}

// Metrics returns the accumulated metrics, with TotalTime set to the
// elapsed time since NewTimer.
func (t *Timer) Metrics() Metrics {
	m := t.m
	m.TotalTime = time.Since(t.start)
	return m
}
