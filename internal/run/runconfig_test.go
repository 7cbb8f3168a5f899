package run

import (
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"title":"Fox Tales","brief":"a fox learns to fly","voiceId":"nova"}`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.SceneCount != 5 || cfg.WordsPerScene != 60 || cfg.AspectRatio != "16:9" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestParseConfigRejectsUnknownFields(t *testing.T) {
	_, err := ParseConfig([]byte(`{"title":"t","brief":"b","voiceId":"v","resolution":"4k"}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"missing title", `{"brief":"b","voiceId":"v"}`, "title"},
		{"missing brief", `{"title":"t","voiceId":"v"}`, "brief"},
		{"missing voice", `{"title":"t","brief":"b"}`, "voiceId"},
		{"scene count too high", `{"title":"t","brief":"b","voiceId":"v","sceneCount":51}`, "sceneCount"},
		{"bad aspect ratio", `{"title":"t","brief":"b","voiceId":"v","aspectRatio":"4:3"}`, "aspectRatio"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.raw))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestConfigEncodeRoundTrip(t *testing.T) {
	cfg := Config{Title: "Fox Tales", Brief: "a fox learns to fly", VoiceID: "nova", SceneCount: 8, WordsPerScene: 40, AspectRatio: "9:16"}
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := ParseConfig([]byte(encoded))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if decoded != cfg {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, cfg)
	}
}
