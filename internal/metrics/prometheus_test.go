package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConnectionMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordConnectionOpened(200)
	m.RecordConnectionOpened(200)
	m.RecordConnectionOpened(401)
	m.RecordConnectionClosed(3 * time.Second)

	if got := testutil.ToFloat64(m.ConnectionsOpened.WithLabelValues("200")); got != 2 {
		t.Errorf("Expected 2 successful handshakes, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsOpened.WithLabelValues("401")); got != 1 {
		t.Errorf("Expected 1 rejected handshake, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveConnections); got != 1 {
		t.Errorf("Expected 1 active connection, got %v", got)
	}
}

func TestMessageAndAudioMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordMessageSent("audio", 3200)
	m.RecordMessageSent("audio", 0)
	m.RecordMessageSent("speech.context", 0)
	m.RecordMessageReceived("turn.start")
	m.RecordReplay(3, 9600)

	if got := testutil.ToFloat64(m.MessagesSent.WithLabelValues("audio")); got != 2 {
		t.Errorf("Expected 2 audio messages, got %v", got)
	}
	if got := testutil.ToFloat64(m.AudioBytesSent); got != 3200 {
		t.Errorf("Expected 3200 audio bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.AudioChunksReplayed); got != 3 {
		t.Errorf("Expected 3 replayed chunks, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReplayRetainedBytes); got != 9600 {
		t.Errorf("Expected 9600 retained bytes, got %v", got)
	}
}

func TestTurnMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTurnStarted(false)
	m.RecordTurnStarted(true)
	m.RecordCancellation("ServiceTimeout")

	if got := testutil.ToFloat64(m.TurnsStarted); got != 2 {
		t.Errorf("Expected 2 turns, got %v", got)
	}
	if got := testutil.ToFloat64(m.TurnsReentrant); got != 1 {
		t.Errorf("Expected 1 reentrant turn, got %v", got)
	}
	if got := testutil.ToFloat64(m.Cancellations.WithLabelValues("ServiceTimeout")); got != 1 {
		t.Errorf("Expected 1 cancellation, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// two instances on separate registries must not collide
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestConnectionEventMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordConnectionEvent("ConnectionEstablished")
	m.RecordConnectionEvent("MessageSent")
	m.RecordConnectionEvent("MessageSent")

	if got := testutil.ToFloat64(m.ConnectionEvents.WithLabelValues("MessageSent")); got != 2 {
		t.Errorf("Expected 2 MessageSent events, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConnectionEvents.WithLabelValues("ConnectionEstablished")); got != 1 {
		t.Errorf("Expected 1 ConnectionEstablished event, got %v", got)
	}
}
