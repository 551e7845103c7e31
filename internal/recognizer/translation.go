package recognizer

import (
	"context"
	"errors"
	"strings"

	"github.com/skypro1111/speech-session-engine/internal/protocol"
)

// ErrNoTargetLanguages is returned when translating without a target language
var ErrNoTargetLanguages = errors.New("translation requires at least one target language")

type translationEntry struct {
	Language string `json:"Language"`
	Text     string `json:"Text"`
}

type translationPayload struct {
	TranslationStatus string             `json:"TranslationStatus"`
	Translations      []translationEntry `json:"Translations"`
	FailureReason     string             `json:"FailureReason"`
}

func (t translationPayload) byLanguage() map[string]string {
	out := make(map[string]string, len(t.Translations))
	for _, e := range t.Translations {
		out[e.Language] = e.Text
	}
	return out
}

type translationHypothesis struct {
	Text        string             `json:"Text"`
	Offset      int64              `json:"Offset"`
	Duration    int64              `json:"Duration"`
	Translation translationPayload `json:"Translation"`
}

type translationPhrase struct {
	RecognitionStatus RecognitionStatus  `json:"RecognitionStatus"`
	Text              string             `json:"Text"`
	Offset            int64              `json:"Offset"`
	Duration          int64              `json:"Duration"`
	Translation       translationPayload `json:"Translation"`
}

type synthesisEnd struct {
	SynthesisStatus string `json:"SynthesisStatus"`
	FailureReason   string `json:"FailureReason"`
}

// TranslationScenario handles speech translation, including synthesized
// audio of the translation when a voice is configured
type TranslationScenario struct {
	TargetLanguages []string
	Recognizing     func(ResultEvent)
	Recognized      func(ResultEvent)
	Synthesizing    func(ResultEvent)
}

// NewTranslationScenario validates the target languages
func NewTranslationScenario(targets []string) (*TranslationScenario, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargetLanguages
	}
	return &TranslationScenario{TargetLanguages: targets}, nil
}

func (s *TranslationScenario) Name() string {
	return "translation"
}

func (s *TranslationScenario) ConfigureContext(ctx map[string]any) {
	ctx["translation"] = map[string]any{"targetLanguages": s.TargetLanguages}
}

func (s *TranslationScenario) ProcessMessage(ctx context.Context, msg *protocol.Message, mc MessageContext) (bool, error) {
	switch msg.Path() {
	case strings.ToLower(protocol.PathTranslationHypothesis):
		var h translationHypothesis
		if err := parsePayload(msg.BodyText(), &h); err != nil {
			return true, err
		}
		offset := h.Offset + mc.TurnOffset()
		mc.OnHypothesis(offset)
		mc.Recognizing(Result{
			ResultID:     protocol.NewID(),
			Reason:       ReasonTranslatingSpeech,
			Text:         h.Text,
			Offset:       offset,
			Duration:     h.Duration,
			Translations: h.Translation.byLanguage(),
			JSON:         msg.BodyText(),
		})
		return true, nil

	case strings.ToLower(protocol.PathTranslationPhrase):
		var p translationPhrase
		if err := parsePayload(msg.BodyText(), &p); err != nil {
			return true, err
		}
		if p.RecognitionStatus == StatusSuccess && strings.EqualFold(p.Translation.TranslationStatus, "Error") {
			mc.OnPhraseRecognized(mc.TurnOffset() + p.Offset + p.Duration)
			return true, NewCancellation(ServiceError, p.Translation.FailureReason, nil)
		}
		return true, handlePhrase(mc, p.RecognitionStatus, p.Offset, p.Duration, func(r *Result) {
			r.Reason = ReasonTranslatedSpeech
			r.Text = p.Text
			r.Translations = p.Translation.byLanguage()
			r.JSON = msg.BodyText()
		})

	case strings.ToLower(protocol.PathTranslationSynthesis):
		s.synthesizing(mc, Result{
			ResultID: protocol.NewID(),
			Reason:   ReasonSynthesizingAudio,
			Audio:    msg.BinaryBody,
		})
		return true, nil

	case strings.ToLower(protocol.PathTranslationSynthesisEnd):
		var end synthesisEnd
		if err := parsePayload(msg.BodyText(), &end); err != nil {
			return true, err
		}
		if strings.EqualFold(end.SynthesisStatus, "Error") {
			return true, NewCancellation(ServiceError, end.FailureReason, nil)
		}
		s.synthesizing(mc, Result{
			ResultID: protocol.NewID(),
			Reason:   ReasonSynthesizingAudioCompleted,
		})
		return true, nil
	}
	return false, nil
}

func (s *TranslationScenario) synthesizing(mc MessageContext, r Result) {
	if s.Synthesizing != nil {
		s.Synthesizing(ResultEvent{SessionID: mc.SessionID(), Result: r})
	}
}

func (s *TranslationScenario) BuildCancelEvent(ev CanceledEvent) CanceledEvent {
	ev.Result.Reason = ReasonCanceled
	if ev.Result.Translations == nil {
		ev.Result.Translations = map[string]string{}
	}
	return ev
}

func (s *TranslationScenario) OnRecognizing(ev ResultEvent) {
	if s.Recognizing != nil {
		s.Recognizing(ev)
	}
}

func (s *TranslationScenario) OnRecognized(ev ResultEvent) {
	if s.Recognized != nil {
		s.Recognized(ev)
	}
}
