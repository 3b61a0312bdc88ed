package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voicecall-platform/pkg/utils"
)

const callColumns = `id, to_number, from_number, text, audio_source, priority, status, dial_mode,
created_at, started_at, completed_at, error_message, audio_file_path, job_id, duration_seconds`

// PostgresRepo stores calls in the calls table (see Migrate).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

var _ Repository = (*PostgresRepo)(nil)

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	if c.ID == "" {
		return ErrInvalidArgument
	}
	if c.Status == "" {
		c.Status = CallStatusPending
	}
	const q = `
INSERT INTO calls (id, to_number, from_number, text, audio_source, priority, status, created_at, job_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.ToNumber,
		c.FromNumber,
		nullString(c.Text),
		nullString(c.AudioSource),
		c.Priority,
		string(c.Status),
		c.CreatedAt,
		nullString(c.JobID),
	)
	if err != nil {
		return fmt.Errorf("calls: insert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	return getCall(ctx, r.db, id, false)
}

// MarkProcessing locks the row, checks it is still pending and flips it, all in one transaction.
func (r *PostgresRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (Call, bool, error) {
	var (
		out Call
		won bool
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := getCall(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if c.Status != CallStatusPending {
			out = c
			return nil
		}
		const q = `UPDATE calls SET status = $2, started_at = $3 WHERE id = $1 AND status = $4`
		res, err := tx.ExecContext(ctx, q, id, string(CallStatusProcessing), startedAt, string(CallStatusPending))
		if err != nil {
			return fmt.Errorf("calls: mark processing: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			won = true
			c.Status = CallStatusProcessing
			c.StartedAt = &startedAt
		}
		out = c
		return nil
	})
	if err != nil {
		return Call{}, false, err
	}
	return out, won, nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, done Completion) error {
	if !done.DialMode.Valid() {
		return ErrInvalidArgument
	}
	const q = `
UPDATE calls
SET status = $2, audio_file_path = $3, dial_mode = $4, duration_seconds = $5, completed_at = $6
WHERE id = $1 AND status = $7
`
	res, err := r.db.ExecContext(ctx, q,
		id,
		string(CallStatusCompleted),
		done.AudioFilePath,
		string(done.DialMode),
		done.DurationSeconds,
		done.CompletedAt,
		string(CallStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("calls: complete: %w", err)
	}
	return r.checkTerminalWrite(ctx, id, res)
}

func (r *PostgresRepo) Fail(ctx context.Context, id string, message string, completedAt time.Time) error {
	const q = `
UPDATE calls
SET status = $2, error_message = $3, completed_at = $4
WHERE id = $1 AND status = $5
`
	res, err := r.db.ExecContext(ctx, q,
		id,
		string(CallStatusFailed),
		message,
		completedAt,
		string(CallStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("calls: fail: %w", err)
	}
	return r.checkTerminalWrite(ctx, id, res)
}

func (r *PostgresRepo) checkTerminalWrite(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (r *PostgresRepo) Summary(ctx context.Context) (Summary, error) {
	const q = `
SELECT status, COUNT(*), COUNT(*) FILTER (WHERE dial_mode = 'simulated')
FROM calls
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return Summary{}, fmt.Errorf("calls: summary: %w", err)
	}
	defer rows.Close()

	s := Summary{ByStatus: map[CallStatus]int{}}
	for rows.Next() {
		var (
			status    string
			total     int
			simulated int
		)
		if err := rows.Scan(&status, &total, &simulated); err != nil {
			return Summary{}, err
		}
		s.ByStatus[CallStatus(status)] = total
		if CallStatus(status) == CallStatusCompleted {
			s.Simulated = simulated
		}
	}
	return s, rows.Err()
}

func getCall(ctx context.Context, q utils.DBTX, id string, forUpdate bool) (Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		c            Call
		status       string
		text         sql.NullString
		audioSource  sql.NullString
		dialMode     sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		errorMessage sql.NullString
		audioPath    sql.NullString
		jobID        sql.NullString
		duration     sql.NullInt64
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.ToNumber,
		&c.FromNumber,
		&text,
		&audioSource,
		&c.Priority,
		&status,
		&dialMode,
		&c.CreatedAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&audioPath,
		&jobID,
		&duration,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, fmt.Errorf("calls: get: %w", err)
	}

	c.Status = CallStatus(status)
	c.Text = text.String
	c.AudioSource = audioSource.String
	c.DialMode = DialMode(dialMode.String)
	c.ErrorMessage = errorMessage.String
	c.AudioFilePath = audioPath.String
	c.JobID = jobID.String
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
