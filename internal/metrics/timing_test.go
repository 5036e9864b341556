package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestTimerRecordsDurations(t *testing.T) {
	timer := NewTimer()
	timer.RecordTCPConnect(10 * time.Millisecond)
	timer.RecordTLSHandshake(20 * time.Millisecond)
	timer.RecordTTFB(30 * time.Millisecond)

	m := timer.Metrics()
	if m.TCPConnect != 10*time.Millisecond {
		t.Fatalf("TCPConnect = %v, want 10ms", m.TCPConnect)
	}
	if m.TLSHandshake != 20*time.Millisecond {
		t.Fatalf("TLSHandshake = %v, want 20ms", m.TLSHandshake)
	}
	if m.TTFB != 30*time.Millisecond {
		t.Fatalf("TTFB = %v, want 30ms", m.TTFB)
	}
	if m.TotalTime <= 0 {
		t.Fatal("TotalTime should be positive once Metrics() is called")
	}
}

func TestTimerTotalTimeGrowsAcrossCalls(t *testing.T) {
	timer := NewTimer()
	first := timer.Metrics().TotalTime
	time.Sleep(time.Millisecond)
	second := timer.Metrics().TotalTime

	if second <= first {
		t.Fatalf("TotalTime did not grow across calls: first=%v second=%v", first, second)
	}
}

func TestMetricsString(t *testing.T) {
	m := Metrics{
		TCPConnect:   time.Millisecond,
		TLSHandshake: 2 * time.Millisecond,
		TTFB:         3 * time.Millisecond,
		TotalTime:    6 * time.Millisecond,
	}
	s := m.String()
	for _, want := range []string{"tcp_connect=", "tls_handshake=", "ttfb=", "total="} {
		if !strings.Contains(s, want) {
			t.Fatalf("String() = %q, missing %q", s, want)
		}
	}
}
