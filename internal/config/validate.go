package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		return nil
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn must be set when database.driver is postgres")
		}
		return nil
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
}

func (c *Config) validateEngine() error {
	if c.Engine.LeaseSeconds <= 0 {
		return errors.New("engine.lease_seconds must be positive")
	}
	if c.Engine.StageRetryCeiling < 0 {
		return errors.New("engine.stage_retry_ceiling must not be negative")
	}
	if c.Engine.UserRetryCeiling < 0 {
		return errors.New("engine.user_retry_ceiling must not be negative")
	}
	if c.Engine.SweepIntervalSeconds <= 0 {
		return errors.New("engine.sweep_interval_seconds must be positive")
	}
	if c.Engine.StaleJobTimeoutSeconds <= c.Engine.LeaseSeconds {
		return errors.New("engine.stale_job_timeout_seconds must exceed engine.lease_seconds")
	}
	if c.Engine.ArtifactRefreshWindowSeconds <= 0 {
		return errors.New("engine.artifact_refresh_window_seconds must be positive")
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	if strings.TrimSpace(c.Artifacts.Endpoint) == "" {
		// Artifact storage is optional until the render stage is configured.
		return nil
	}
	if strings.TrimSpace(c.Artifacts.Bucket) == "" {
		return errors.New("artifacts.bucket must be set when artifacts.endpoint is configured")
	}
	if c.Artifacts.PresignTTLSeconds <= 0 {
		return errors.New("artifacts.presign_ttl_seconds must be positive")
	}
	return nil
}

func (c *Config) validateServices() error {
	services := []struct {
		name string
		svc  Service
	}{
		{"segmenter", c.Segmenter},
		{"imageforge", c.ImageForge},
		{"voicegen", c.VoiceGen},
		{"renderfarm", c.RenderFarm},
	}
	for _, entry := range services {
		if strings.TrimSpace(entry.svc.BaseURL) == "" {
			return fmt.Errorf("%s.base_url must be set", entry.name)
		}
		if entry.svc.TimeoutSeconds <= 0 {
			return fmt.Errorf("%s.timeout_seconds must be positive", entry.name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
