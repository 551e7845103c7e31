package recognizer

import (
	"context"
	"testing"

	"github.com/skypro1111/speech-session-engine/internal/protocol"
)

type fakeMessageContext struct {
	turnOffset  int64
	speechEnded bool
	hypotheses  []int64
	acks        []int64
	recognizing []Result
	recognized  []Result
}

func (m *fakeMessageContext) SessionID() string               { return "session" }
func (m *fakeMessageContext) TurnOffset() int64               { return m.turnOffset }
func (m *fakeMessageContext) IsSpeechEnded() bool             { return m.speechEnded }
func (m *fakeMessageContext) OnHypothesis(offset int64)       { m.hypotheses = append(m.hypotheses, offset) }
func (m *fakeMessageContext) OnPhraseRecognized(offset int64) { m.acks = append(m.acks, offset) }
func (m *fakeMessageContext) Recognizing(r Result)            { m.recognizing = append(m.recognizing, r) }
func (m *fakeMessageContext) Recognized(r Result)             { m.recognized = append(m.recognized, r) }

func textMessage(path, body string) *protocol.Message {
	return protocol.NewTextMessage(path, "req", protocol.ContentTypeJSON, body)
}

func TestSpeechHypothesis(t *testing.T) {
	s := &SpeechScenario{}
	mc := &fakeMessageContext{turnOffset: 1000}

	handled, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathSpeechHypothesis,
		`{"Text":"hel","Offset":200,"Duration":300,"PrimaryLanguage":{"Language":"en-US"}}`), mc)
	if err != nil || !handled {
		t.Fatalf("Expected hypothesis to be handled, got handled=%v err=%v", handled, err)
	}
	if len(mc.hypotheses) != 1 || mc.hypotheses[0] != 1200 {
		t.Errorf("Expected hypothesis at 1200, got %v", mc.hypotheses)
	}
	if len(mc.recognizing) != 1 {
		t.Fatalf("Expected 1 intermediate result, got %d", len(mc.recognizing))
	}
	r := mc.recognizing[0]
	if r.Reason != ReasonRecognizingSpeech || r.Text != "hel" || r.Offset != 1200 || r.Language != "en-US" {
		t.Errorf("Unexpected intermediate result %+v", r)
	}
	if len(mc.acks) != 0 {
		t.Error("Expected no acknowledgement for a hypothesis")
	}
}

func TestSpeechPhraseStatuses(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		speechEnded bool
		reason      ResultReason
		text        string
		results     int
		acks        int
		cancel      CancellationErrorCode
	}{
		{
			name:    "simple success",
			body:    `{"RecognitionStatus":"Success","DisplayText":"Hello.","Offset":100,"Duration":50}`,
			reason:  ReasonRecognizedSpeech,
			text:    "Hello.",
			results: 1,
			acks:    1,
		},
		{
			name:    "detailed success",
			body:    `{"RecognitionStatus":"Success","Offset":100,"Duration":50,"NBest":[{"Confidence":0.9,"Display":"Detailed."}]}`,
			reason:  ReasonRecognizedSpeech,
			text:    "Detailed.",
			results: 1,
			acks:    1,
		},
		{
			name:    "no match",
			body:    `{"RecognitionStatus":"NoMatch","Offset":100,"Duration":50}`,
			reason:  ReasonNoMatch,
			results: 1,
			acks:    1,
		},
		{
			name:        "trailing no match after end of input",
			body:        `{"RecognitionStatus":"NoMatch","Offset":100,"Duration":50}`,
			speechEnded: true,
			results:     0,
			acks:        1,
		},
		{
			name:        "initial silence after end of input",
			body:        `{"RecognitionStatus":"InitialSilenceTimeout","Offset":100,"Duration":50}`,
			speechEnded: true,
			reason:      ReasonNoMatch,
			results:     1,
			acks:        1,
		},
		{
			name:    "babble timeout",
			body:    `{"RecognitionStatus":"BabbleTimeout","Offset":100,"Duration":50}`,
			reason:  ReasonNoMatch,
			results: 1,
			acks:    1,
		},
		{
			name:    "end of dictation",
			body:    `{"RecognitionStatus":"EndOfDictation","Offset":0,"Duration":0}`,
			results: 0,
			acks:    0,
		},
		{
			name:   "service error",
			body:   `{"RecognitionStatus":"Error","Offset":100,"Duration":50}`,
			acks:   1,
			cancel: ServiceError,
		},
		{
			name:   "too many requests",
			body:   `{"RecognitionStatus":"TooManyRequests"}`,
			acks:   1,
			cancel: TooManyRequests,
		},
		{
			name:   "bad request",
			body:   `{"RecognitionStatus":"BadRequest"}`,
			acks:   1,
			cancel: BadRequestParameters,
		},
		{
			name:   "forbidden",
			body:   `{"RecognitionStatus":"Forbidden"}`,
			acks:   1,
			cancel: Forbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SpeechScenario{Format: OutputDetailed}
			mc := &fakeMessageContext{turnOffset: 1000, speechEnded: tt.speechEnded}

			handled, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathSpeechPhrase, tt.body), mc)
			if !handled {
				t.Fatal("Expected phrase to be handled")
			}
			if tt.cancel != NoError {
				cerr, ok := AsCancellation(err)
				if !ok {
					t.Fatalf("Expected cancellation, got %v", err)
				}
				if cerr.Code != tt.cancel {
					t.Errorf("Expected %s, got %s", tt.cancel, cerr.Code)
				}
			} else if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if len(mc.acks) != tt.acks {
				t.Errorf("Expected %d acknowledgements, got %d", tt.acks, len(mc.acks))
			}
			if len(mc.recognized) != tt.results {
				t.Fatalf("Expected %d results, got %d", tt.results, len(mc.recognized))
			}
			if tt.results == 1 {
				r := mc.recognized[0]
				if r.Reason != tt.reason {
					t.Errorf("Expected reason %s, got %s", tt.reason, r.Reason)
				}
				if r.Text != tt.text {
					t.Errorf("Expected text %q, got %q", tt.text, r.Text)
				}
				if r.Offset != 1100 {
					t.Errorf("Expected offset 1100, got %d", r.Offset)
				}
			}
		})
	}
}

func TestPhraseAcknowledgesEndOfPhrase(t *testing.T) {
	s := &SpeechScenario{}
	mc := &fakeMessageContext{turnOffset: 1000}

	_, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathSpeechPhrase,
		`{"RecognitionStatus":"Success","DisplayText":"a","Offset":100,"Duration":50}`), mc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(mc.acks) != 1 || mc.acks[0] != 1150 {
		t.Errorf("Expected acknowledgement at 1150, got %v", mc.acks)
	}
}

func TestSpeechScenarioIgnoresOtherPaths(t *testing.T) {
	s := &SpeechScenario{}
	handled, err := s.ProcessMessage(context.Background(), textMessage("speech.keyword", "{}"), &fakeMessageContext{})
	if handled || err != nil {
		t.Errorf("Expected unknown path to be unhandled, got handled=%v err=%v", handled, err)
	}
}

func TestSpeechScenarioInvalidPayload(t *testing.T) {
	s := &SpeechScenario{}
	handled, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathSpeechPhrase, "{not json"), &fakeMessageContext{})
	if !handled || err == nil {
		t.Errorf("Expected invalid payload error, got handled=%v err=%v", handled, err)
	}
	if _, ok := AsCancellation(err); ok {
		t.Error("Expected a parse error, not a cancellation")
	}
}

func TestSpeechContextOutputFormat(t *testing.T) {
	ctx := map[string]any{}
	(&SpeechScenario{Format: OutputDetailed}).ConfigureContext(ctx)

	out, ok := ctx["phraseOutput"].(map[string]any)
	if !ok {
		t.Fatal("Expected phraseOutput in context")
	}
	if out["format"] != "Detailed" {
		t.Errorf("Expected format Detailed, got %v", out["format"])
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in       string
		expected OutputFormat
		wantErr  bool
	}{
		{"", OutputSimple, false},
		{"simple", OutputSimple, false},
		{"Detailed", OutputDetailed, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputFormat(%q): expected error %v, got %v", tt.in, tt.wantErr, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseOutputFormat(%q): expected %s, got %s", tt.in, tt.expected, got)
		}
	}
}

func TestTranslationPhrase(t *testing.T) {
	s, err := NewTranslationScenario([]string{"de", "fr"})
	if err != nil {
		t.Fatalf("NewTranslationScenario failed: %v", err)
	}
	mc := &fakeMessageContext{}

	body := `{"RecognitionStatus":"Success","Text":"Hello","Offset":10,"Duration":20,` +
		`"Translation":{"TranslationStatus":"Success","Translations":[{"Language":"de","Text":"Hallo"},{"Language":"fr","Text":"Bonjour"}]}}`
	handled, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathTranslationPhrase, body), mc)
	if err != nil || !handled {
		t.Fatalf("Expected phrase to be handled, got handled=%v err=%v", handled, err)
	}
	if len(mc.recognized) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(mc.recognized))
	}
	r := mc.recognized[0]
	if r.Reason != ReasonTranslatedSpeech {
		t.Errorf("Expected reason TranslatedSpeech, got %s", r.Reason)
	}
	if r.Translations["de"] != "Hallo" || r.Translations["fr"] != "Bonjour" {
		t.Errorf("Unexpected translations %v", r.Translations)
	}
	if len(mc.acks) != 1 || mc.acks[0] != 30 {
		t.Errorf("Expected acknowledgement at 30, got %v", mc.acks)
	}
}

func TestTranslationFailureCancels(t *testing.T) {
	s, _ := NewTranslationScenario([]string{"de"})
	mc := &fakeMessageContext{}

	body := `{"RecognitionStatus":"Success","Text":"Hello","Offset":0,"Duration":20,` +
		`"Translation":{"TranslationStatus":"Error","FailureReason":"language pair not supported"}}`
	_, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathTranslationPhrase, body), mc)

	cerr, ok := AsCancellation(err)
	if !ok {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if cerr.Code != ServiceError {
		t.Errorf("Expected ServiceError, got %s", cerr.Code)
	}
	if cerr.Detail != Detail(ServiceError)+" language pair not supported" {
		t.Errorf("Unexpected detail %q", cerr.Detail)
	}
}

func TestTranslationHypothesis(t *testing.T) {
	s, _ := NewTranslationScenario([]string{"de"})
	mc := &fakeMessageContext{turnOffset: 5}

	body := `{"Text":"Hel","Offset":10,"Duration":20,"Translation":{"Translations":[{"Language":"de","Text":"Hal"}]}}`
	if _, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathTranslationHypothesis, body), mc); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(mc.recognizing) != 1 || mc.recognizing[0].Translations["de"] != "Hal" {
		t.Fatalf("Unexpected intermediate results %+v", mc.recognizing)
	}
	if mc.recognizing[0].Offset != 15 {
		t.Errorf("Expected offset 15, got %d", mc.recognizing[0].Offset)
	}
}

func TestTranslationSynthesis(t *testing.T) {
	s, _ := NewTranslationScenario([]string{"de"})
	var events []ResultEvent
	s.Synthesizing = func(ev ResultEvent) { events = append(events, ev) }
	mc := &fakeMessageContext{}

	audioMsg := protocol.NewBinaryMessage(protocol.PathTranslationSynthesis, "req", "", []byte{1, 2, 3})
	if _, err := s.ProcessMessage(context.Background(), audioMsg, mc); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathTranslationSynthesisEnd, `{"SynthesisStatus":"Success"}`), mc); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 synthesis events, got %d", len(events))
	}
	if events[0].Result.Reason != ReasonSynthesizingAudio || len(events[0].Result.Audio) != 3 {
		t.Errorf("Unexpected synthesis event %+v", events[0].Result)
	}
	if events[1].Result.Reason != ReasonSynthesizingAudioCompleted {
		t.Errorf("Expected SynthesizingAudioCompleted, got %s", events[1].Result.Reason)
	}

	_, err := s.ProcessMessage(context.Background(), textMessage(protocol.PathTranslationSynthesisEnd,
		`{"SynthesisStatus":"Error","FailureReason":"voice unavailable"}`), mc)
	if cerr, ok := AsCancellation(err); !ok || cerr.Code != ServiceError {
		t.Errorf("Expected ServiceError cancellation, got %v", err)
	}
}

func TestTranslationRequiresTargets(t *testing.T) {
	if _, err := NewTranslationScenario(nil); err != ErrNoTargetLanguages {
		t.Errorf("Expected ErrNoTargetLanguages, got %v", err)
	}
}

func TestTranslationCancelEvent(t *testing.T) {
	s, _ := NewTranslationScenario([]string{"de"})
	ev := s.BuildCancelEvent(CanceledEvent{Reason: ReasonError, Code: ConnectionFailure})
	if ev.Result.Reason != ReasonCanceled {
		t.Errorf("Expected canceled result, got %s", ev.Result.Reason)
	}
	if ev.Result.Translations == nil {
		t.Error("Expected an empty translation map")
	}
}

func TestRecognitionStatusDecoding(t *testing.T) {
	tests := []struct {
		body     string
		expected RecognitionStatus
	}{
		{`{"RecognitionStatus":"Success"}`, StatusSuccess},
		{`{"RecognitionStatus":"initialsilencetimeout"}`, StatusInitialSilenceTimeout},
		{`{"RecognitionStatus":"SomethingNew"}`, StatusError},
	}
	for _, tt := range tests {
		var p speechPhrase
		if err := parsePayload(tt.body, &p); err != nil {
			t.Fatalf("parsePayload(%s) failed: %v", tt.body, err)
		}
		if p.RecognitionStatus != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.body, tt.expected, p.RecognitionStatus)
		}
	}
}
