package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// RecognitionMode selects the service endpoint flavor
type RecognitionMode int

const (
	ModeInteractive RecognitionMode = iota
	ModeConversation
	ModeDictation
)

// String returns the endpoint path segment for the mode
func (m RecognitionMode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeConversation:
		return "conversation"
	case ModeDictation:
		return "dictation"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseRecognitionMode parses a mode name
func ParseRecognitionMode(s string) (RecognitionMode, error) {
	switch strings.ToLower(s) {
	case "", "interactive":
		return ModeInteractive, nil
	case "conversation":
		return ModeConversation, nil
	case "dictation":
		return ModeDictation, nil
	default:
		return 0, fmt.Errorf("unknown recognition mode %q", s)
	}
}

// Config is what a Factory needs to resolve an endpoint
type Config struct {
	// Endpoint overrides Host and Region with a full URL
	Endpoint string
	// Host overrides the region-derived host, e.g. wss://localhost:5000
	Host   string
	Region string

	Mode         RecognitionMode
	Language     string
	OutputFormat string
	Profanity    string

	// translation only
	TargetLanguages []string
	Voice           string

	// Properties are passed through as query parameters
	Properties map[string]string

	Websocket WebsocketConfig
}

// Factory creates a Connection per attempt
type Factory interface {
	Create(ctx context.Context, cfg Config, auth AuthInfo, connectionID string) (Connection, error)
}

// SpeechFactory builds connections for speech-to-text
type SpeechFactory struct {
	Logger *slog.Logger
}

func (f SpeechFactory) Create(ctx context.Context, cfg Config, auth AuthInfo, connectionID string) (Connection, error) {
	path := fmt.Sprintf("/speech/recognition/%s/cognitiveservices/v1", cfg.Mode)
	host := cfg.Host
	if host == "" && cfg.Region != "" {
		host = fmt.Sprintf("wss://%s.stt.speech.microsoft.com", cfg.Region)
	}

	query := url.Values{}
	setIfEmpty(query, "language", cfg.Language)
	setIfEmpty(query, "format", cfg.OutputFormat)
	setIfEmpty(query, "profanity", cfg.Profanity)

	return newConnection(ctx, cfg, host, path, query, auth, connectionID, f.Logger)
}

// TranslationFactory builds connections for speech translation
type TranslationFactory struct {
	Logger *slog.Logger
}

func (f TranslationFactory) Create(ctx context.Context, cfg Config, auth AuthInfo, connectionID string) (Connection, error) {
	if len(cfg.TargetLanguages) == 0 {
		return nil, fmt.Errorf("translation requires at least one target language")
	}

	path := "/speech/translation/cognitiveservices/v1"
	host := cfg.Host
	if host == "" && cfg.Region != "" {
		host = fmt.Sprintf("wss://%s.s2s.speech.microsoft.com", cfg.Region)
	}

	query := url.Values{}
	setIfEmpty(query, "from", cfg.Language)
	setIfEmpty(query, "to", strings.Join(cfg.TargetLanguages, ","))
	setIfEmpty(query, "format", cfg.OutputFormat)
	setIfEmpty(query, "profanity", cfg.Profanity)
	if cfg.Voice != "" {
		query.Set("features", "texttospeech")
		query.Set("voice", cfg.Voice)
	}

	return newConnection(ctx, cfg, host, path, query, auth, connectionID, f.Logger)
}

func newConnection(ctx context.Context, cfg Config, host, path string, query url.Values, auth AuthInfo, connectionID string, logger *slog.Logger) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	endpoint, err := ResolveEndpoint(cfg.Endpoint, host, path, query, cfg.Properties)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if auth.HeaderName != "" && auth.Token != "" {
		header.Set(auth.HeaderName, auth.Token)
	}
	header.Set("X-ConnectionId", connectionID)

	return NewWebsocketConnection(connectionID, endpoint, header, cfg.Websocket, logger), nil
}

// ResolveEndpoint combines an explicit endpoint or host+path with query
// parameters. Parameters already present on an explicit endpoint win.
func ResolveEndpoint(endpoint, host, path string, query url.Values, properties map[string]string) (string, error) {
	var raw string
	switch {
	case endpoint != "":
		raw = endpoint
	case host != "":
		raw = strings.TrimRight(host, "/") + path
	default:
		return "", fmt.Errorf("no endpoint, host or region configured")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}

	existing := u.Query()
	merge := func(k, v string) {
		if v == "" || existing.Has(k) {
			return
		}
		existing.Set(k, v)
	}
	for k := range query {
		merge(k, query.Get(k))
	}

	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merge(k, properties[k])
	}

	u.RawQuery = existing.Encode()
	return u.String(), nil
}

func setIfEmpty(q url.Values, key, value string) {
	if value != "" && q.Get(key) == "" {
		q.Set(key, value)
	}
}
