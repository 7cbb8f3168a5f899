package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/run"
)

// Daemon coordinates the API server and the background sweeper, and
// enforces single-instance execution through a file lock.
type Daemon struct {
	cfg    *config.Config
	store  *run.Store
	engine *engine.Engine
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *run.Store, eng *engine.Engine, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || eng == nil {
		return nil, errors.New("daemon requires config, store, and engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockFilePath()
	d := &Daemon{
		cfg:      cfg,
		store:    store,
		engine:   eng,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, eng, store, logger)
	return d, nil
}

// Start acquires the instance lock, starts the API server, and launches
// the sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another storyloom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.wg.Add(1)
	go d.sweep(runCtx)

	d.running.Store(true)
	d.logger.Info("daemon started", logging.Args(
		logging.String("lock", d.lockPath),
		logging.String("bind", d.cfg.API.Bind),
	)...)
	return nil
}

// Stop shuts down background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("lock release failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// sweep periodically advances every active run so progress does not depend
// on clients polling. Each advance is idempotent; conflicts with concurrent
// client-driven advances resolve as no-ops.
func (d *Daemon) sweep(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.Engine.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

func (d *Daemon) sweepOnce(ctx context.Context) {
	active, err := d.store.ListActive(ctx)
	if err != nil {
		d.logger.Warn("sweep list failed", logging.Error(err))
		return
	}
	for _, r := range active {
		result, err := d.engine.Advance(ctx, r.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("sweep advance failed", logging.Args(
				logging.String(logging.FieldRunID, r.ID),
				logging.Error(err),
			)...)
			continue
		}
		if result.Action != engine.ActionNoop && result.Action != engine.ActionWaiting && result.Action != engine.ActionConflict {
			d.logger.Info("sweep advanced run", logging.Args(
				logging.String(logging.FieldRunID, r.ID),
				logging.String(logging.FieldAction, string(result.Action)),
				logging.String(logging.FieldPhase, string(result.Phase)),
			)...)
		}
	}
}
