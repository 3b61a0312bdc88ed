package calls

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is idempotent and safe to run on every api start.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
  id               UUID PRIMARY KEY,
  to_number        TEXT NOT NULL,
  from_number      TEXT NOT NULL,
  text             TEXT,
  audio_source     TEXT,
  priority         SMALLINT NOT NULL DEFAULT 1 CHECK (priority BETWEEN 1 AND 3),
  status           TEXT NOT NULL DEFAULT 'pending'
                   CHECK (status IN ('pending','processing','completed','failed')),
  dial_mode        TEXT CHECK (dial_mode IN ('real','simulated')),
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at       TIMESTAMPTZ,
  completed_at     TIMESTAMPTZ,
  error_message    TEXT,
  audio_file_path  TEXT,
  job_id           TEXT,
  duration_seconds INTEGER
);
CREATE INDEX IF NOT EXISTS calls_status_idx ON calls (status);
`

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("calls: migrate: %w", err)
	}
	return nil
}
