package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/andresmejia3/thermalgait/internal/types"
)

const sqliteSchemaVersion = 1

// SQLite stores jobs in a local database file.
type SQLite struct {
	conn *sql.DB
}

// NewSQLite opens (or creates) the database at path and migrates it.
func NewSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One writer avoids SQLITE_BUSY between workers.
	conn.SetMaxOpenConns(1)

	s := &SQLite{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

// migrate applies schema versions tracked in PRAGMA user_version.
func (s *SQLite) migrate() error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for version < sqliteSchemaVersion {
		version++
		switch version {
		case 1:
			if err := applySQLiteSchemaV1(tx); err != nil {
				return fmt.Errorf("failed to apply schema v%d: %w", version, err)
			}
		default:
			return fmt.Errorf("unknown schema version: %d", version)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

func applySQLiteSchemaV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_jobs (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			video_path TEXT NOT NULL,
			video_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
			thermal_verdict TEXT,
			score TEXT,
			failure TEXT,
			energy_image_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS analysis_jobs_video_id_idx ON analysis_jobs (video_id);
		CREATE UNIQUE INDEX IF NOT EXISTS analysis_jobs_one_active_idx
			ON analysis_jobs (video_id) WHERE status IN ('pending', 'processing');
	`)
	return err
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

const sqliteJobColumns = `id, video_id, video_path, video_name, status, thermal_verdict, score, failure,
	energy_image_path, created_at, started_at, finished_at`

func (s *SQLite) CreateJob(ctx context.Context, job *types.Job) error {
	if job.Status == "" {
		job.Status = types.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO analysis_jobs (id, video_id, video_path, video_name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, job.VideoID, job.VideoPath, job.VideoName, string(job.Status), job.CreatedAt)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", types.ErrAlreadyProcessing, job.VideoID)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*types.Job, error) {
	var (
		job                     types.Job
		status                  string
		verdict, score, failure sql.NullString
		started, finished       sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.VideoID, &job.VideoPath, &job.VideoName, &status,
		&verdict, &score, &failure, &job.EnergyImagePath, &job.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	st, err := types.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Status = st
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	return &job, decodeResults(&job, []byte(verdict.String), []byte(score.String), []byte(failure.String))
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*types.Job, error) {
	job, err := scanSQLiteJob(s.conn.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM analysis_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return job, err
}

func (s *SQLite) ActiveJob(ctx context.Context, videoID string) (*types.Job, error) {
	job, err := scanSQLiteJob(s.conn.QueryRowContext(ctx, `
		SELECT `+sqliteJobColumns+` FROM analysis_jobs
		WHERE video_id = ? AND status IN ('pending', 'processing')
		LIMIT 1`, videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *SQLite) ListJobs(ctx context.Context, f Filter) ([]*types.Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+sqliteJobColumns+` FROM analysis_jobs
		WHERE (?1 = '' OR video_id = ?1) AND (?2 = '' OR status = ?2)
		ORDER BY created_at DESC, id
		LIMIT ?3`, f.VideoID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLite) transition(ctx context.Context, id string, from, to types.Status, query string, args ...any) error {
	if err := types.CheckTransition(from, to); err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	var current string
	err = s.conn.QueryRowContext(ctx, `SELECT status FROM analysis_jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return transitionError("", false, id, to)
	}
	if err != nil {
		return err
	}
	return transitionError(types.Status(current), true, id, to)
}

func (s *SQLite) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.StatusPending, types.StatusProcessing, `
		UPDATE analysis_jobs SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'`, time.Now().UTC(), id)
}

func (s *SQLite) Complete(ctx context.Context, id string, verdict *types.ThermalVerdict, score *types.AnomalyScore, energyImage string) error {
	v, err := marshalNullable(verdict)
	if err != nil {
		return err
	}
	sc, err := marshalNullable(score)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, types.StatusProcessing, types.StatusCompleted, `
		UPDATE analysis_jobs
		SET status = 'completed', thermal_verdict = ?, score = ?, energy_image_path = ?, failure = NULL, finished_at = ?
		WHERE id = ? AND status = 'processing'`, nullString(v), nullString(sc), energyImage, time.Now().UTC(), id)
}

func (s *SQLite) Fail(ctx context.Context, id string, verdict *types.ThermalVerdict, failure *types.Failure) error {
	v, err := marshalNullable(verdict)
	if err != nil {
		return err
	}
	f, err := marshalNullable(failure)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, types.StatusProcessing, types.StatusFailed, `
		UPDATE analysis_jobs
		SET status = 'failed', thermal_verdict = ?, failure = ?, finished_at = ?
		WHERE id = ? AND status = 'processing'`, nullString(v), nullString(f), time.Now().UTC(), id)
}

func (s *SQLite) FailStale(ctx context.Context, cutoff time.Time, failure *types.Failure) ([]string, error) {
	f, err := marshalNullable(failure)
	if err != nil {
		return nil, err
	}
	var active []*types.Job
	for _, st := range []types.Status{types.StatusPending, types.StatusProcessing} {
		list, err := s.ListJobs(ctx, Filter{Status: st})
		if err != nil {
			return nil, err
		}
		active = append(active, list...)
	}

	var ids []string
	for _, job := range active {
		if !stale(job, cutoff) {
			continue
		}
		now := time.Now().UTC()
		res, err := s.conn.ExecContext(ctx, `
			UPDATE analysis_jobs
			SET status = 'failed', failure = ?, started_at = COALESCE(started_at, ?), finished_at = ?
			WHERE id = ? AND status = ?`, nullString(f), now, now, job.ID, string(job.Status))
		if err != nil {
			return ids, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return ids, err
		} else if n == 1 {
			ids = append(ids, job.ID)
		}
	}
	return ids, nil
}

// Reset drops the job table and recreates it.
func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DROP TABLE IF EXISTS analysis_jobs; PRAGMA user_version = 0`); err != nil {
		return err
	}
	return s.migrate()
}

func nullString(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}
