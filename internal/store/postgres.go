package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/thermalgait/internal/types"
)

// Postgres manages a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres establishes a pool and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// initPostgresSchema creates the job table and its indexes if they don't exist.
// The partial unique index is the last line of defence against two active
// jobs for one video.
func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS analysis_jobs (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			video_path TEXT NOT NULL,
			video_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
			thermal_verdict JSONB,
			score JSONB,
			failure JSONB,
			energy_image_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS analysis_jobs_video_id_idx ON analysis_jobs (video_id);
		CREATE UNIQUE INDEX IF NOT EXISTS analysis_jobs_one_active_idx
			ON analysis_jobs (video_id) WHERE status IN ('pending', 'processing');
	`)
	return err
}

// Close terminates the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

const pgJobColumns = `id, video_id, video_path, video_name, status, thermal_verdict, score, failure,
	energy_image_path, created_at, started_at, finished_at`

func (s *Postgres) CreateJob(ctx context.Context, job *types.Job) error {
	if job.Status == "" {
		job.Status = types.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (id, video_id, video_path, video_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.VideoID, job.VideoPath, job.VideoName, string(job.Status), job.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "active") {
		return fmt.Errorf("%w: %s", types.ErrAlreadyProcessing, job.VideoID)
	}
	return err
}

func scanPgJob(row pgx.Row) (*types.Job, error) {
	var (
		job                     types.Job
		status                  string
		verdict, score, failure []byte
	)
	if err := row.Scan(&job.ID, &job.VideoID, &job.VideoPath, &job.VideoName, &status,
		&verdict, &score, &failure, &job.EnergyImagePath, &job.CreatedAt, &job.StartedAt, &job.FinishedAt); err != nil {
		return nil, err
	}
	st, err := types.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Status = st
	return &job, decodeResults(&job, verdict, score, failure)
}

func (s *Postgres) GetJob(ctx context.Context, id string) (*types.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return job, err
}

func (s *Postgres) ActiveJob(ctx context.Context, videoID string) (*types.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `
		SELECT `+pgJobColumns+` FROM analysis_jobs
		WHERE video_id = $1 AND status IN ('pending', 'processing')
		LIMIT 1`, videoID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *Postgres) ListJobs(ctx context.Context, f Filter) ([]*types.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM analysis_jobs WHERE ($1 = '' OR video_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id`
	args := []any{f.VideoID, string(f.Status)}
	if f.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, f.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// transition runs a conditional update and explains a miss.
func (s *Postgres) transition(ctx context.Context, id string, from, to types.Status, query string, args ...any) error {
	if err := types.CheckTransition(from, to); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return transitionError("", false, id, to)
	}
	if err != nil {
		return err
	}
	return transitionError(types.Status(current), true, id, to)
}

func (s *Postgres) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.StatusPending, types.StatusProcessing, `
		UPDATE analysis_jobs SET status = 'processing', started_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
}

func (s *Postgres) Complete(ctx context.Context, id string, verdict *types.ThermalVerdict, score *types.AnomalyScore, energyImage string) error {
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
		SET status = 'completed', thermal_verdict = $2, score = $3, energy_image_path = $4, failure = NULL, finished_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, v, sc, energyImage)
}

func (s *Postgres) Fail(ctx context.Context, id string, verdict *types.ThermalVerdict, failure *types.Failure) error {
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
		SET status = 'failed', thermal_verdict = $2, failure = $3, finished_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, v, f)
}

func (s *Postgres) FailStale(ctx context.Context, cutoff time.Time, failure *types.Failure) ([]string, error) {
	f, err := marshalNullable(failure)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE analysis_jobs
		SET status = 'failed', failure = $2, started_at = COALESCE(started_at, NOW()), finished_at = NOW()
		WHERE (status = 'pending' AND created_at < $1) OR (status = 'processing' AND started_at < $1)
		RETURNING id`, cutoff, f)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Postgres) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS analysis_jobs CASCADE`); err != nil {
		return err
	}
	return initPostgresSchema(ctx, s.pool)
}
