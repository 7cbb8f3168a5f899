package run

import (
	"context"
	"fmt"
	"strings"
)

// Timestamps are persisted as fixed-width UTC strings so SQL comparisons stay
// lexicographic across both backends.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    owner_ref TEXT NOT NULL,
    phase TEXT NOT NULL,
    config_json TEXT NOT NULL,
    locked_until TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    stage_retries TEXT,
    user_retries INTEGER NOT NULL DEFAULT 0,
    error_code TEXT,
    error_message TEXT,
    error_phase TEXT,
    job_refs TEXT,
    artifact_key TEXT,
    artifact_url TEXT,
    artifact_url_expires_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    completed_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS runs_active_owner
    ON runs(owner_ref)
    WHERE phase NOT IN ('ready', 'failed', 'canceled');
CREATE INDEX IF NOT EXISTS runs_phase ON runs(phase);
CREATE INDEX IF NOT EXISTS runs_owner ON runs(owner_ref);
`

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaDDL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
