package telemetry

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Listener receives timing points from a request session
type Listener interface {
	RecognitionTriggered(at time.Time)
	AudioAttaching(at time.Time)
	AudioAttached(at time.Time, err error)
	ConnectionStarting(connectionID string, at time.Time)
	ConnectionEstablished(at time.Time)
	ConnectionFailed(at time.Time, statusCode int, reason string)
	HypothesisReceived(at time.Time)
	PhraseReceived(at time.Time)
	HasTelemetry() bool
	Flush() ([]byte, error)
}

// Metric is one timed span in the telemetry payload
type Metric struct {
	Name  string `json:"Name"`
	ID    string `json:"Id,omitempty"`
	Start string `json:"Start"`
	End   string `json:"End,omitempty"`
	Error string `json:"Error,omitempty"`
}

// Payload is the body of a telemetry message
type Payload struct {
	Metrics          []Metric            `json:"Metrics"`
	ReceivedMessages map[string][]string `json:"ReceivedMessages"`
}

// Recorder collects timings for one recognition and renders them as the
// telemetry payload
type Recorder struct {
	requestID   string
	audioNodeID string

	mu         sync.Mutex
	trigger    *Metric
	microphone *Metric
	connection *Metric
	hypotheses []string
	phrases    []string
}

// NewRecorder creates a recorder bound to one request
func NewRecorder(requestID, audioNodeID string) *Recorder {
	return &Recorder{requestID: requestID, audioNodeID: audioNodeID}
}

// RequestID returns the request the recorder was created for
func (r *Recorder) RequestID() string {
	return r.requestID
}

func (r *Recorder) RecognitionTriggered(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := stamp(at)
	r.trigger = &Metric{Name: "ListeningTrigger", Start: ts, End: ts}
}

func (r *Recorder) AudioAttaching(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphone = &Metric{Name: "Microphone", ID: r.audioNodeID, Start: stamp(at)}
}

func (r *Recorder) AudioAttached(at time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.microphone == nil {
		r.microphone = &Metric{Name: "Microphone", ID: r.audioNodeID, Start: stamp(at)}
	}
	r.microphone.End = stamp(at)
	if err != nil {
		r.microphone.Error = err.Error()
	}
}

func (r *Recorder) ConnectionStarting(connectionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = &Metric{Name: "Connection", ID: connectionID, Start: stamp(at)}
}

func (r *Recorder) ConnectionEstablished(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connection != nil {
		r.connection.End = stamp(at)
	}
}

func (r *Recorder) ConnectionFailed(at time.Time, statusCode int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connection != nil {
		r.connection.End = stamp(at)
		r.connection.Error = reason
		if reason == "" {
			r.connection.Error = "status " + strconv.Itoa(statusCode)
		}
	}
}

func (r *Recorder) HypothesisReceived(at time.Time) {
	if at.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hypotheses = append(r.hypotheses, stamp(at))
}

func (r *Recorder) PhraseReceived(at time.Time) {
	if at.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phrases = append(r.phrases, stamp(at))
}

// HasTelemetry reports whether any result timings were recorded since the
// last Flush
func (r *Recorder) HasTelemetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hypotheses) > 0 || len(r.phrases) > 0
}

// Flush renders the payload and clears what was reported. Metrics are
// reported once; received-message timings accumulate per turn.
func (r *Recorder) Flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := Payload{
		Metrics:          []Metric{},
		ReceivedMessages: map[string][]string{},
	}
	for _, m := range []*Metric{r.trigger, r.microphone, r.connection} {
		if m != nil {
			p.Metrics = append(p.Metrics, *m)
		}
	}
	if len(r.phrases) > 0 {
		p.ReceivedMessages["speech.phrase"] = r.phrases
	}
	if len(r.hypotheses) > 0 {
		p.ReceivedMessages["speech.hypothesis"] = r.hypotheses
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	r.trigger, r.microphone, r.connection = nil, nil, nil
	r.phrases, r.hypotheses = nil, nil
	return data, nil
}

// Discard is a Listener that records nothing
type Discard struct{}

func (Discard) RecognitionTriggered(time.Time)          {}
func (Discard) AudioAttaching(time.Time)                {}
func (Discard) AudioAttached(time.Time, error)          {}
func (Discard) ConnectionStarting(string, time.Time)    {}
func (Discard) ConnectionEstablished(time.Time)         {}
func (Discard) ConnectionFailed(time.Time, int, string) {}
func (Discard) HypothesisReceived(time.Time)            {}
func (Discard) PhraseReceived(time.Time)                {}
func (Discard) HasTelemetry() bool                      { return false }
func (Discard) Flush() ([]byte, error)                  { return nil, nil }

var (
	_ Listener = (*Recorder)(nil)
	_ Listener = Discard{}
)

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
