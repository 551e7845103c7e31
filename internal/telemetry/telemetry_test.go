package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRecorderFlush(t *testing.T) {
	r := NewRecorder("req1", "node1")
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	r.RecognitionTriggered(start)
	r.AudioAttaching(start)
	r.AudioAttached(start.Add(10*time.Millisecond), nil)
	r.ConnectionStarting("conn1", start.Add(20*time.Millisecond))
	r.ConnectionEstablished(start.Add(120 * time.Millisecond))

	if r.HasTelemetry() {
		t.Error("Expected no telemetry before any result")
	}

	r.HypothesisReceived(start.Add(time.Second))
	r.HypothesisReceived(time.Time{})
	r.PhraseReceived(start.Add(2 * time.Second))

	if !r.HasTelemetry() {
		t.Fatal("Expected telemetry after results")
	}

	data, err := r.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(p.Metrics) != 3 {
		t.Fatalf("Expected 3 metrics, got %d", len(p.Metrics))
	}
	conn := p.Metrics[2]
	if conn.Name != "Connection" || conn.ID != "conn1" || conn.End != "2024-05-01T10:00:00.120Z" {
		t.Errorf("Unexpected connection metric %+v", conn)
	}
	if got := p.ReceivedMessages["speech.hypothesis"]; len(got) != 1 {
		t.Errorf("Expected 1 hypothesis time (zero time ignored), got %v", got)
	}
	if got := p.ReceivedMessages["speech.phrase"]; len(got) != 1 || got[0] != "2024-05-01T10:00:02.000Z" {
		t.Errorf("Unexpected phrase times %v", got)
	}

	if r.HasTelemetry() {
		t.Error("Expected Flush to clear result timings")
	}
}

func TestRecorderConnectionFailed(t *testing.T) {
	r := NewRecorder("req1", "node1")
	now := time.Now()

	r.ConnectionStarting("conn1", now)
	r.ConnectionFailed(now, 403, "")
	r.AudioAttached(now, errors.New("no device"))

	data, _ := r.Flush()
	var p Payload
	json.Unmarshal(data, &p)

	var sawConn, sawMic bool
	for _, m := range p.Metrics {
		switch m.Name {
		case "Connection":
			sawConn = m.Error == "status 403"
		case "Microphone":
			sawMic = m.Error == "no device" && m.ID == "node1"
		}
	}
	if !sawConn || !sawMic {
		t.Errorf("Expected error details on metrics, got %+v", p.Metrics)
	}
}
