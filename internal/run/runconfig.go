package run

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the immutable parameter snapshot frozen when a run is created.
// It is validated once at creation and persisted as JSON; nothing mutates it
// afterwards, so reruns of a stage always see the parameters the owner
// originally submitted.
type Config struct {
	Title         string `json:"title"`
	Brief         string `json:"brief"`
	VoiceID       string `json:"voiceId"`
	ImageStyle    string `json:"imageStyle,omitempty"`
	SceneCount    int    `json:"sceneCount,omitempty"`
	WordsPerScene int    `json:"wordsPerScene,omitempty"`
	AspectRatio   string `json:"aspectRatio,omitempty"`
}

const (
	defaultSceneCount    = 5
	maxSceneCount        = 50
	defaultWordsPerScene = 60
	defaultAspectRatio   = "16:9"
)

// ParseConfig decodes and validates a frozen run configuration. Unknown
// fields are rejected rather than silently dropped.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode run config: %w", err)
	}
	if decoder.More() {
		return Config{}, fmt.Errorf("decode run config: trailing data")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SceneCount == 0 {
		c.SceneCount = defaultSceneCount
	}
	if c.WordsPerScene == 0 {
		c.WordsPerScene = defaultWordsPerScene
	}
	if strings.TrimSpace(c.AspectRatio) == "" {
		c.AspectRatio = defaultAspectRatio
	}
}

// Validate checks the configuration invariants enforced at run creation.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("run config: title is required")
	}
	if strings.TrimSpace(c.Brief) == "" {
		return fmt.Errorf("run config: brief is required")
	}
	if strings.TrimSpace(c.VoiceID) == "" {
		return fmt.Errorf("run config: voiceId is required")
	}
	if c.SceneCount < 1 || c.SceneCount > maxSceneCount {
		return fmt.Errorf("run config: sceneCount must be between 1 and %d", maxSceneCount)
	}
	if c.WordsPerScene < 1 {
		return fmt.Errorf("run config: wordsPerScene must be positive")
	}
	switch c.AspectRatio {
	case "16:9", "9:16", "1:1":
	default:
		return fmt.Errorf("run config: unsupported aspectRatio %q", c.AspectRatio)
	}
	return nil
}

// Encode serializes the frozen config for persistence.
func (c Config) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	return string(data), nil
}
