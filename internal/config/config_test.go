package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyloom/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
[segmenter]
base_url = "http://localhost:8081"
[imageforge]
base_url = "http://localhost:8082"
[voicegen]
base_url = "http://localhost:8083"
[renderfarm]
base_url = "http://localhost:8084"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q %v", resolved, exists)
	}
	if cfg.Engine.LeaseSeconds != 300 {
		t.Fatalf("expected default lease, got %d", cfg.Engine.LeaseSeconds)
	}
	if cfg.Engine.StageRetryCeiling != 3 || cfg.Engine.UserRetryCeiling != 5 {
		t.Fatalf("unexpected retry ceilings: %+v", cfg.Engine)
	}
	if cfg.Database.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.Database.Driver)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("expected expanded data dir, got %q", cfg.Paths.DataDir)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, minimalConfig+"\n[engine]\nretry_forever = true\n")
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRejectsMissingServiceURL(t *testing.T) {
	path := writeConfig(t, `
[segmenter]
base_url = "http://localhost:8081"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("expected base_url validation error, got %v", err)
	}
}

func TestPostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, minimalConfig+"\n[database]\ndriver = \"postgres\"\n")
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error when postgres dsn missing")
	}
}

func TestStaleTimeoutMustExceedLease(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[engine]
lease_seconds = 600
stale_job_timeout_seconds = 300
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error when stale timeout is below lease window")
	}
}

func TestEnvOverridesToken(t *testing.T) {
	t.Setenv("STORYLOOM_API_TOKEN", "env-token")
	path := writeConfig(t, minimalConfig)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "env-token" {
		t.Fatalf("expected env token override, got %q", cfg.API.Token)
	}
}

func TestSampleConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
}
