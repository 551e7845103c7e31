package recognizer

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/skypro1111/speech-session-engine/internal/audio"
)

// Version is reported to the service in speech.config
var Version = "dev"

type systemInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Lang    string `json:"lang"`
}

type osInfo struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

type audioInfo struct {
	Source audio.DeviceInfo `json:"source"`
}

type speechConfigContext struct {
	System systemInfo `json:"system"`
	OS     osInfo     `json:"os"`
	Audio  audioInfo  `json:"audio"`
}

type speechConfig struct {
	Context speechConfigContext `json:"context"`
}

// speechConfigBody builds the speech.config payload sent once per connection
func speechConfigBody(device audio.DeviceInfo) (string, error) {
	cfg := speechConfig{
		Context: speechConfigContext{
			System: systemInfo{
				Name:    "speech-session-engine",
				Version: Version,
				Build:   "Go",
				Lang:    runtime.Version(),
			},
			OS: osInfo{
				Platform: runtime.GOOS,
				Name:     runtime.GOOS,
				Version:  runtime.GOARCH,
			},
			Audio: audioInfo{Source: device},
		},
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal speech.config: %w", err)
	}
	return string(body), nil
}

// speechContextBody builds the speech.context payload sent once per turn
func speechContextBody(s Scenario) (string, error) {
	ctx := map[string]any{}
	s.ConfigureContext(ctx)
	body, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to marshal speech.context: %w", err)
	}
	return string(body), nil
}
