package engine

import (
	"errors"
	"log/slog"
	"time"

	"storyloom/internal/artifact"
	"storyloom/internal/collab"
	"storyloom/internal/logging"
	"storyloom/internal/run"
)

// Settings carries the orchestration tunables. Zero values fall back to
// the documented defaults.
type Settings struct {
	// Lease is the kickoff lease window. A crashed kickoff blocks the run
	// for at most this long.
	Lease time.Duration
	// StageRetryCeiling bounds advance-driven partial retries per stage.
	StageRetryCeiling int
	// UserRetryCeiling bounds explicit retry calls per run.
	UserRetryCeiling int
	// ArtifactRefreshWindow is how close to expiry an artifact URL may get
	// before a status read re-signs it.
	ArtifactRefreshWindow time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Lease <= 0 {
		s.Lease = 5 * time.Minute
	}
	if s.StageRetryCeiling <= 0 {
		s.StageRetryCeiling = 3
	}
	if s.UserRetryCeiling <= 0 {
		s.UserRetryCeiling = 5
	}
	if s.ArtifactRefreshWindow <= 0 {
		s.ArtifactRefreshWindow = 10 * time.Minute
	}
	return s
}

// Engine drives persisted runs through the pipeline.
type Engine struct {
	store    *run.Store
	registry *collab.Registry
	signer   artifact.Signer
	settings Settings
	logger   *slog.Logger
}

// New builds an engine. The signer may be nil when artifact URLs are not
// served (the rendering phase then records only the object key).
func New(store *run.Store, registry *collab.Registry, signer artifact.Signer, settings Settings, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	if registry == nil {
		return nil, errors.New("engine: adapter registry is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:    store,
		registry: registry,
		signer:   signer,
		settings: settings.withDefaults(),
		logger:   logging.NewComponentLogger(logger, "engine"),
	}, nil
}
