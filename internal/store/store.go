// Package store persists analysis jobs. Postgres backs deployments; SQLite
// backs single-host runs and tests. Both enforce the job state machine with
// conditional updates and allow one active job per video.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/thermalgait/internal/types"
)

// Store is the job persistence contract used by the orchestrator.
type Store interface {
	// CreateJob inserts a pending job. It returns ErrAlreadyProcessing when
	// the video already has a pending or processing job.
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, f Filter) ([]*types.Job, error)
	// ActiveJob returns the pending or processing job for a video, or nil.
	ActiveJob(ctx context.Context, videoID string) (*types.Job, error)

	// MarkProcessing moves a pending job to processing.
	MarkProcessing(ctx context.Context, id string) error
	// Complete stores the verdict, score and energy image path and moves a
	// processing job to completed in one statement.
	Complete(ctx context.Context, id string, verdict *types.ThermalVerdict, score *types.AnomalyScore, energyImage string) error
	// Fail moves a processing job to failed. verdict may be nil.
	Fail(ctx context.Context, id string, verdict *types.ThermalVerdict, failure *types.Failure) error
	// FailStale fails every pending job created before cutoff and every
	// processing job started before cutoff, and returns their IDs. It frees
	// videos whose worker died without recording an outcome.
	FailStale(ctx context.Context, cutoff time.Time, failure *types.Failure) ([]string, error)

	// Reset drops all job data.
	Reset(ctx context.Context) error
	Close() error
}

// Filter narrows ListJobs. Zero values match everything.
type Filter struct {
	VideoID string
	Status  types.Status
	Limit   int
}

// Open connects to the backend named by dsn. postgres:// and postgresql://
// URLs select Postgres; anything else is a SQLite file path, optionally
// prefixed with sqlite://.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case dsn == "":
		return nil, fmt.Errorf("no database configured")
	default:
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	}
}

// stale reports whether an active job made no progress since cutoff.
func stale(job *types.Job, cutoff time.Time) bool {
	switch job.Status {
	case types.StatusPending:
		return job.CreatedAt.Before(cutoff)
	case types.StatusProcessing:
		return job.StartedAt == nil || job.StartedAt.Before(cutoff)
	}
	return false
}

func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case *types.ThermalVerdict:
		if x == nil {
			return nil, nil
		}
	case *types.AnomalyScore:
		if x == nil {
			return nil, nil
		}
	case *types.Failure:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// decodeResults fills the JSON-backed fields of job.
func decodeResults(job *types.Job, verdict, score, failure []byte) error {
	if len(verdict) > 0 {
		job.Verdict = &types.ThermalVerdict{}
		if err := json.Unmarshal(verdict, job.Verdict); err != nil {
			return fmt.Errorf("job %s: bad verdict: %w", job.ID, err)
		}
	}
	if len(score) > 0 {
		job.Score = &types.AnomalyScore{}
		if err := json.Unmarshal(score, job.Score); err != nil {
			return fmt.Errorf("job %s: bad score: %w", job.ID, err)
		}
	}
	if len(failure) > 0 {
		job.Failure = &types.Failure{}
		if err := json.Unmarshal(failure, job.Failure); err != nil {
			return fmt.Errorf("job %s: bad failure: %w", job.ID, err)
		}
	}
	return nil
}

// transitionError explains why a conditional update touched no rows.
func transitionError(current types.Status, found bool, id string, to types.Status) error {
	if !found {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	if err := types.CheckTransition(current, to); err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	// The row changed between the update and the lookup.
	return fmt.Errorf("job %s: %w: concurrent update from %s", id, types.ErrInvalidTransition, current)
}
