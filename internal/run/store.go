package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"storyloom/internal/config"
)

// ErrActiveRunExists is returned by Create when the owner already has a
// non-terminal run.
var ErrActiveRunExists = errors.New("an active run already exists for this owner")

// Store manages run persistence backed by SQLite or Postgres.
type Store struct {
	db     *sql.DB
	driver string
	path   string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open connects to the run database selected by configuration.
func Open(cfg *config.Config) (*Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return OpenPostgres(cfg.Database.DSN)
	default:
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(cfg.DatabasePath())
	}
}

// OpenSQLite initializes or connects to a SQLite run database.
func OpenSQLite(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, driver: config.DriverSQLite, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects to a Postgres run database via the pgx stdlib driver.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}

	store := &Store{db: db, driver: config.DriverPostgres}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the sqlite database location, if any.
func (s *Store) Path() string {
	return s.path
}

// rebind rewrites ? placeholders to $n for Postgres. Queries must not embed
// literal question marks.
func (s *Store) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	query = s.rebind(query)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Create inserts a new run for the owner in the init phase with a frozen
// configuration snapshot.
func (s *Store) Create(ctx context.Context, ownerRef string, cfg Config) (*Run, error) {
	ownerRef = strings.TrimSpace(ownerRef)
	if ownerRef == "" {
		return nil, errors.New("owner ref is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	encoded, err := cfg.Encode()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(timeFormat)

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO runs (
            id, owner_ref, phase, config_json, retry_count, user_retries,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		id,
		ownerRef,
		PhaseInit,
		encoded,
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrActiveRunExists
		}
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a run by identifier. A missing run returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// FindActive returns the owner's non-terminal run, if any.
func (s *Store) FindActive(ctx context.Context, ownerRef string) (*Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.rebind(`SELECT `+runColumns+` FROM runs
         WHERE owner_ref = ? AND phase NOT IN ('ready', 'failed', 'canceled')
         ORDER BY created_at LIMIT 1`),
		ownerRef,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active run: %w", err)
	}
	return r, nil
}

// List returns runs filtered by phase set (or all runs when none given).
func (s *Store) List(ctx context.Context, phases ...Phase) ([]*Run, error) {
	baseQuery := `SELECT ` + runColumns + ` FROM runs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(phases) == 0 {
		rows, err = s.db.QueryContext(ctx, s.rebind(baseQuery+orderClause))
	} else {
		placeholders := makePlaceholders(len(phases))
		args := make([]any, len(phases))
		for i, phase := range phases {
			args[i] = phase
		}
		query := baseQuery + ` WHERE phase IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, s.rebind(query), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListActive returns every non-terminal run ordered by creation time.
func (s *Store) ListActive(ctx context.Context) ([]*Run, error) {
	return s.List(ctx, PhaseInit, PhaseScripting, PhaseIllustrating, PhaseNarrating, PhaseRendering)
}

// Stats returns a count of runs grouped by phase.
func (s *Store) Stats(ctx context.Context) (map[Phase]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phase, COUNT(1) FROM runs GROUP BY phase`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Phase]int)
	for rows.Next() {
		var phase Phase
		var count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, err
		}
		stats[phase] = count
	}
	return stats, rows.Err()
}

// PruneTerminal deletes terminal runs that completed before the cutoff.
// Active runs are never touched.
func (s *Store) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM runs
         WHERE phase IN ('ready', 'failed', 'canceled')
           AND updated_at < ?`,
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("prune terminal runs: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = "id, owner_ref, phase, config_json, locked_until, retry_count, stage_retries, user_retries, error_code, error_message, error_phase, job_refs, artifact_key, artifact_url, artifact_url_expires_at, created_at, updated_at, completed_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id              string
		ownerRef        string
		phaseStr        string
		configJSON      string
		lockedUntilRaw  sql.NullString
		retryCount      int
		stageRetriesRaw sql.NullString
		userRetries     int
		errorCode       sql.NullString
		errorMessage    sql.NullString
		errorPhase      sql.NullString
		jobRefsRaw      sql.NullString
		artifactKey     sql.NullString
		artifactURL     sql.NullString
		artifactExpRaw  sql.NullString
		createdRaw      string
		updatedRaw      string
		completedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerRef,
		&phaseStr,
		&configJSON,
		&lockedUntilRaw,
		&retryCount,
		&stageRetriesRaw,
		&userRetries,
		&errorCode,
		&errorMessage,
		&errorPhase,
		&jobRefsRaw,
		&artifactKey,
		&artifactURL,
		&artifactExpRaw,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	stageRetries, err := decodePhaseMap[int](stageRetriesRaw.String)
	if err != nil {
		return nil, fmt.Errorf("decode stage retries: %w", err)
	}
	jobRefs, err := decodePhaseMap[string](jobRefsRaw.String)
	if err != nil {
		return nil, fmt.Errorf("decode job refs: %w", err)
	}

	r := &Run{
		ID:           id,
		OwnerRef:     ownerRef,
		Phase:        Phase(phaseStr),
		ConfigJSON:   configJSON,
		RetryCount:   retryCount,
		StageRetries: stageRetries,
		UserRetries:  userRetries,
		ErrorCode:    errorCode.String,
		ErrorMessage: errorMessage.String,
		ErrorPhase:   Phase(errorPhase.String),
		JobRefs:      jobRefs,
		ArtifactKey:  artifactKey.String,
		ArtifactURL:  artifactURL.String,
	}

	if t, ok := parseNullableTime(lockedUntilRaw); ok {
		r.LockedUntil = t
	}
	if t, ok := parseNullableTime(artifactExpRaw); ok {
		r.ArtifactURLExpiresAt = t
	}
	if t, ok := parseNullableTime(completedRaw); ok {
		r.CompletedAt = t
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		r.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		r.UpdatedAt = updated
	}
	return r, nil
}

func parseNullableTime(value sql.NullString) (*time.Time, bool) {
	if !value.Valid || value.String == "" {
		return nil, false
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeFormat, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTimeString(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeFormat)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
