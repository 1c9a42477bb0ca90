package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/thermalgait/internal/types"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newJob(videoID string, created time.Time) *types.Job {
	return &types.Job{
		ID:        uuid.NewString(),
		VideoID:   videoID,
		VideoPath: "/data/" + videoID + ".mp4",
		VideoName: videoID + ".mp4",
		CreatedAt: created,
	}
}

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, s Store) {
	ctx := context.Background()
	base := testTime

	t.Run("lifecycle to completed", func(t *testing.T) {
		job := newJob("vid-complete", base)
		require.NoError(t, s.CreateJob(ctx, job))
		assert.Equal(t, types.StatusPending, job.Status)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, got.Status)
		assert.Nil(t, got.StartedAt)

		require.NoError(t, s.MarkProcessing(ctx, job.ID))
		verdict := &types.ThermalVerdict{Accepted: true, ThermalRatio: 1, FramesSampled: 12}
		score := &types.AnomalyScore{ReconstructionError: 0.3, LatentDistance: 0.9, LatentMetric: "mahalanobis",
			CombinedScore: 0.6, Threshold: 0.5, ThreatDetected: true, Confidence: 0.7, ThreatConfidence: 0.7,
			AlgorithmVersion: "v1", Model: types.ModelInfo{LatentDim: 64, BaseChannels: 32, ImageSize: 64}}
		require.NoError(t, s.Complete(ctx, job.ID, verdict, score, "/data/gei/gei.png"))

		got, err = s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, got.Status)
		assert.Equal(t, "/data/gei/gei.png", got.EnergyImagePath)
		assert.NotNil(t, got.StartedAt)
		assert.NotNil(t, got.FinishedAt)
		assert.Nil(t, got.Failure)
		if diff := cmp.Diff(score, got.Score); diff != "" {
			t.Errorf("score mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(verdict, got.Verdict, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("verdict mismatch (-want +got):\n%s", diff)
		}

		// Terminal states reject further transitions.
		assert.ErrorIs(t, s.Fail(ctx, job.ID, nil, types.FailureFrom(types.ErrTimeout)), types.ErrInvalidTransition)
		assert.ErrorIs(t, s.MarkProcessing(ctx, job.ID), types.ErrInvalidTransition)
	})

	t.Run("lifecycle to failed", func(t *testing.T) {
		job := newJob("vid-fail", base.Add(time.Minute))
		require.NoError(t, s.CreateJob(ctx, job))

		// pending -> failed skips processing.
		assert.ErrorIs(t, s.Fail(ctx, job.ID, nil, types.FailureFrom(types.ErrTimeout)), types.ErrInvalidTransition)

		require.NoError(t, s.MarkProcessing(ctx, job.ID))
		verdict := &types.ThermalVerdict{Accepted: false, RGBRatio: 1, FramesSampled: 3, Reason: "no thermal frames detected"}
		failure := types.FailureFrom(types.ErrNonThermalFootage)
		require.NoError(t, s.Fail(ctx, job.ID, verdict, failure))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Nil(t, got.Score)
		require.NotNil(t, got.Failure)
		assert.Equal(t, types.FailureNonThermal, got.Failure.Kind)
		assert.Equal(t, failure.UserMessage, got.Failure.UserMessage)
		require.NotNil(t, got.Verdict)
		assert.False(t, got.Verdict.Accepted)

		assert.ErrorIs(t, s.Complete(ctx, job.ID, nil, nil, ""), types.ErrInvalidTransition)
	})

	t.Run("one active job per video", func(t *testing.T) {
		first := newJob("vid-dup", base.Add(2*time.Minute))
		require.NoError(t, s.CreateJob(ctx, first))

		active, err := s.ActiveJob(ctx, "vid-dup")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, first.ID, active.ID)

		err = s.CreateJob(ctx, newJob("vid-dup", base.Add(3*time.Minute)))
		assert.ErrorIs(t, err, types.ErrAlreadyProcessing)

		require.NoError(t, s.MarkProcessing(ctx, first.ID))
		err = s.CreateJob(ctx, newJob("vid-dup", base.Add(3*time.Minute)))
		assert.ErrorIs(t, err, types.ErrAlreadyProcessing)

		require.NoError(t, s.Fail(ctx, first.ID, nil, types.FailureFrom(types.ErrModelInference)))
		active, err = s.ActiveJob(ctx, "vid-dup")
		require.NoError(t, err)
		assert.Nil(t, active)

		// A resubmission after failure is allowed.
		require.NoError(t, s.CreateJob(ctx, newJob("vid-dup", base.Add(4*time.Minute))))
	})

	t.Run("list and lookup", func(t *testing.T) {
		jobs, err := s.ListJobs(ctx, Filter{VideoID: "vid-dup"})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt), "newest first")

		jobs, err = s.ListJobs(ctx, Filter{Status: types.StatusFailed})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)

		jobs, err = s.ListJobs(ctx, Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, jobs, 1)

		_, err = s.GetJob(ctx, "no-such-job")
		assert.ErrorIs(t, err, types.ErrJobNotFound)
		assert.ErrorIs(t, s.MarkProcessing(ctx, "no-such-job"), types.ErrJobNotFound)
	})

	t.Run("fail stale active jobs", func(t *testing.T) {
		failure := &types.Failure{Kind: types.FailureInternal, Message: "job abandoned", UserMessage: types.FailureInternal.UserMessage()}
		old := newJob("vid-stale-pending", time.Now().Add(-2*time.Hour))
		fresh := newJob("vid-fresh-pending", time.Now().UTC())
		running := newJob("vid-running", time.Now().Add(-2*time.Hour))
		for _, j := range []*types.Job{old, fresh, running} {
			require.NoError(t, s.CreateJob(ctx, j))
		}
		require.NoError(t, s.MarkProcessing(ctx, running.ID))

		ids, err := s.FailStale(ctx, time.Now().Add(-time.Hour), failure)
		require.NoError(t, err)
		assert.Contains(t, ids, old.ID)
		assert.NotContains(t, ids, fresh.ID)
		assert.NotContains(t, ids, running.ID, "started recently")

		got, err := s.GetJob(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)
		require.NotNil(t, got.Failure)
		assert.Equal(t, types.FailureInternal, got.Failure.Kind)
		assert.NotNil(t, got.StartedAt)
		assert.NotNil(t, got.FinishedAt)

		// The video accepts a new job once its stale one is failed.
		require.NoError(t, s.CreateJob(ctx, newJob("vid-stale-pending", time.Now().UTC())))

		ids, err = s.FailStale(ctx, time.Now().Add(time.Minute), failure)
		require.NoError(t, err)
		assert.Contains(t, ids, running.ID)
		got, err = s.GetJob(ctx, running.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)

		// Terminal jobs are never swept again.
		ids, err = s.FailStale(ctx, time.Now().Add(time.Minute), failure)
		require.NoError(t, err)
		assert.NotContains(t, ids, running.ID)
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, s.Reset(ctx))
		jobs, err := s.ListJobs(ctx, Filter{})
		require.NoError(t, err)
		assert.Empty(t, jobs)
		require.NoError(t, s.CreateJob(ctx, newJob("vid-after-reset", base)))
	})
}
