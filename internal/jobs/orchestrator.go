// Package jobs runs the analysis pipeline as asynchronous jobs.
//
// A job moves pending -> processing -> completed|failed. Each transition is
// persisted through a store.Store before the next step starts, so a crashed
// process leaves jobs in their last durable state. At most one job per video
// may be pending or processing at a time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/thermalgait/internal/gei"
	"github.com/andresmejia3/thermalgait/internal/notify"
	"github.com/andresmejia3/thermalgait/internal/render"
	"github.com/andresmejia3/thermalgait/internal/scoring"
	"github.com/andresmejia3/thermalgait/internal/store"
	"github.com/andresmejia3/thermalgait/internal/thermal"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/video"
	"github.com/andresmejia3/thermalgait/internal/worker"
)

// HeatMapTitle labels rendered energy images.
const HeatMapTitle = "Gait Energy Image"

// Step names a pipeline stage reported through Options.OnStep.
type Step string

const (
	StepRepairing  Step = "repairing"
	StepValidating Step = "validating"
	StepBuilding   Step = "building"
	StepRendering  Step = "rendering"
	StepScoring    Step = "scoring"
	StepNotifying  Step = "notifying"
)

// Options wires an Orchestrator. Store, Validator, Builder and Engine are
// required.
type Options struct {
	Store     store.Store
	Validator *thermal.Validator
	Builder   *gei.Builder
	Engine    *scoring.Engine
	Notifier  notify.Notifier

	// Workers bounds concurrent jobs. Values below 1 mean 1.
	Workers int
	// Timeout is the per-job budget. Zero disables it.
	Timeout time.Duration
	// Repair re-encodes clips with broken container headers before analysis.
	Repair bool
	// OutputDir receives energy images and repaired copies under
	// <OutputDir>/<video id>. Empty means <video dir>/gei/<video id>.
	OutputDir string

	Logger *zap.Logger
	OnStep func(job *types.Job, step Step)
}

// Orchestrator accepts jobs and runs them on a worker pool.
type Orchestrator struct {
	opts   Options
	pool   *worker.Pool
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	active map[string]string        // video id -> job id
	done   map[string]chan struct{} // job id -> closed when the job settles
}

// New validates opts and starts an idle pool.
func New(opts Options) (*Orchestrator, error) {
	var missing []error
	if opts.Store == nil {
		missing = append(missing, errors.New("store is required"))
	}
	if opts.Validator == nil {
		missing = append(missing, errors.New("validator is required"))
	}
	if opts.Builder == nil {
		missing = append(missing, errors.New("energy image builder is required"))
	}
	if opts.Engine == nil {
		missing = append(missing, errors.New("scoring engine is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", opts.Timeout)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{Logger: opts.Logger}
	}
	return &Orchestrator{
		opts:   opts,
		pool:   worker.New(opts.Workers),
		logger: opts.Logger,
		active: make(map[string]string),
		done:   make(map[string]chan struct{}),
	}, nil
}

// Submit creates a pending job for asset and schedules it. It returns
// ErrAlreadyProcessing when the video already has an active job.
func (o *Orchestrator) Submit(ctx context.Context, asset types.VideoAsset) (*types.Job, error) {
	if asset.ID == "" || asset.Path == "" {
		return nil, errors.New("video asset needs an id and a path")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, worker.ErrClosed
	}
	if jobID, ok := o.active[asset.ID]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (job %s)", types.ErrAlreadyProcessing, asset.ID, jobID)
	}
	// Hold the slot while talking to the store so concurrent submits in
	// this process cannot both pass the durable check.
	o.active[asset.ID] = ""
	o.mu.Unlock()

	job, err := o.create(ctx, asset)
	if err != nil {
		o.mu.Lock()
		delete(o.active, asset.ID)
		o.mu.Unlock()
		return nil, err
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.active[asset.ID] = job.ID
	o.done[job.ID] = done
	o.mu.Unlock()

	o.logger.Info("Job submitted", zap.String("job", job.ID), zap.String("video", job.VideoID))

	snapshot := *job
	err = o.pool.Go(func(ctx context.Context) {
		o.run(ctx, &snapshot, done)
	}, func(err error) {
		o.abandon(&snapshot, done, err)
	})
	if err != nil {
		o.abandon(&snapshot, done, err)
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) create(ctx context.Context, asset types.VideoAsset) (*types.Job, error) {
	existing, err := o.opts.Store.ActiveJob(ctx, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active jobs: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s (job %s)", types.ErrAlreadyProcessing, asset.ID, existing.ID)
	}
	job := &types.Job{
		ID:        uuid.NewString(),
		VideoID:   asset.ID,
		VideoPath: asset.Path,
		VideoName: asset.Name,
		Status:    types.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.opts.Store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Retry resubmits the video of a failed job as a new job. Jobs are never
// retried automatically.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*types.Job, error) {
	prev, err := o.opts.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if prev.Status != types.StatusFailed {
		return nil, fmt.Errorf("%w: only failed jobs can be retried, job %s is %s",
			types.ErrInvalidTransition, jobID, prev.Status)
	}
	o.logger.Info("Retrying job", zap.String("job", jobID), zap.String("video", prev.VideoID))
	return o.Submit(ctx, prev.Asset())
}

// Wait blocks until the job settles in this process (or ctx ends) and
// returns its persisted state. Jobs owned by another process are returned
// as currently stored.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (*types.Job, error) {
	o.mu.Lock()
	done := o.done[jobID]
	o.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.opts.Store.GetJob(ctx, jobID)
}

// Get returns the persisted job.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*types.Job, error) {
	return o.opts.Store.GetJob(ctx, jobID)
}

// Close stops accepting jobs, cancels running ones and waits for them to
// persist their final state. The store is left open.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.pool.Close()
}

func (o *Orchestrator) step(job *types.Job, s Step) {
	o.logger.Debug("Job step", zap.String("job", job.ID), zap.String("step", string(s)))
	if o.opts.OnStep != nil {
		o.opts.OnStep(job, s)
	}
}

// release frees the video for new submissions.
func (o *Orchestrator) release(job *types.Job) {
	o.mu.Lock()
	if o.active[job.VideoID] == job.ID {
		delete(o.active, job.VideoID)
	}
	o.mu.Unlock()
}

// settle wakes waiters once every side effect of the job is done.
func (o *Orchestrator) settle(job *types.Job, done chan struct{}) {
	o.mu.Lock()
	delete(o.done, job.ID)
	o.mu.Unlock()
	close(done)
}

// abandon fails a job that never got a worker slot.
func (o *Orchestrator) abandon(job *types.Job, done chan struct{}, cause error) {
	defer o.settle(job, done)
	defer o.release(job)

	ctx := context.Background()
	err := o.opts.Store.MarkProcessing(ctx, job.ID)
	if err == nil {
		err = o.opts.Store.Fail(ctx, job.ID, nil, types.FailureFrom(fmt.Errorf("%w: %v", context.Canceled, cause)))
	}
	if err != nil {
		o.logger.Error("Failed to abandon queued job", zap.String("job", job.ID), zap.Error(err))
		return
	}
	o.logger.Warn("Queued job canceled", zap.String("job", job.ID), zap.Error(cause))
}

func (o *Orchestrator) run(poolCtx context.Context, job *types.Job, done chan struct{}) {
	defer o.settle(job, done)
	log := o.logger.With(zap.String("job", job.ID), zap.String("video", job.VideoID))

	ctx := poolCtx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(poolCtx, o.opts.Timeout,
			fmt.Errorf("%w after %s", types.ErrTimeout, o.opts.Timeout))
		defer cancel()
	}
	// State changes must land even after the job context ends.
	persist := context.WithoutCancel(ctx)

	if err := o.opts.Store.MarkProcessing(persist, job.ID); err != nil {
		log.Error("Failed to start job", zap.Error(err))
		o.failUnrecorded(persist, job, nil, err, log)
		o.release(job)
		return
	}
	now := time.Now().UTC()
	job.Status = types.StatusProcessing
	job.StartedAt = &now
	log.Info("Job processing", zap.String("path", job.VideoPath))

	res, err := o.analyze(ctx, job, log)
	if err != nil {
		failure := types.FailureFrom(err)
		if ferr := o.opts.Store.Fail(persist, job.ID, res.verdict, failure); ferr != nil {
			log.Error("Failed to persist job failure", zap.Error(ferr), zap.NamedError("cause", err))
		}
		o.release(job)
		if failure.Kind == types.FailureNonThermal {
			log.Info("Job rejected", zap.String("reason", err.Error()))
		} else {
			log.Error("Job failed", zap.String("kind", string(failure.Kind)), zap.Error(err))
		}
		return
	}

	if err := o.opts.Store.Complete(persist, job.ID, res.verdict, res.score, res.energyImage); err != nil {
		log.Error("Failed to persist job result", zap.Error(err))
		if o.failUnrecorded(persist, job, res.verdict, err, log) != types.StatusCompleted {
			o.release(job)
			return
		}
	}
	o.release(job)
	job.Status = types.StatusCompleted
	job.Verdict, job.Score, job.EnergyImagePath = res.verdict, res.score, res.energyImage
	log.Info("Job completed",
		zap.Bool("threat", res.score.ThreatDetected),
		zap.Float64("combined_score", res.score.CombinedScore),
		zap.Float64("confidence", res.score.Confidence))

	if res.score.ThreatDetected {
		o.step(job, StepNotifying)
		if err := o.opts.Notifier.NotifyThreat(persist, notify.ThreatFromJob(job)); err != nil {
			if !errors.Is(err, types.ErrNotificationDelivery) {
				err = fmt.Errorf("%w: %v", types.ErrNotificationDelivery, err)
			}
			log.Warn("Threat notification not delivered", zap.Error(err))
		}
	}
}

// failUnrecorded moves a job whose state change could not be stored to
// failed so its video is not blocked, and returns the status the store ends
// up holding. A job the store still reports as pending passes through
// processing first.
func (o *Orchestrator) failUnrecorded(ctx context.Context, job *types.Job, verdict *types.ThermalVerdict, cause error, log *zap.Logger) types.Status {
	failure := types.FailureFrom(fmt.Errorf("job state not recorded: %w", cause))
	err := o.opts.Store.Fail(ctx, job.ID, verdict, failure)
	if errors.Is(err, types.ErrInvalidTransition) {
		var current *types.Job
		if current, err = o.opts.Store.GetJob(ctx, job.ID); err == nil {
			switch current.Status {
			case types.StatusPending:
				if err = o.opts.Store.MarkProcessing(ctx, job.ID); err == nil {
					err = o.opts.Store.Fail(ctx, job.ID, verdict, failure)
				}
			case types.StatusCompleted, types.StatusFailed:
				log.Warn("Job outcome recorded despite store error",
					zap.String("status", string(current.Status)), zap.NamedError("cause", cause))
				return current.Status
			}
		}
	}
	if err != nil {
		log.Error("Job left active, run `thermalgait jobs recover` once the store is reachable",
			zap.Error(err), zap.NamedError("cause", cause))
		return job.Status
	}
	job.Status = types.StatusFailed
	job.Failure = failure
	log.Warn("Job failed after its state could not be recorded", zap.NamedError("cause", cause))
	return types.StatusFailed
}

// RecoverStale fails jobs that stayed pending or processing for longer than
// maxAge, which happens when a process exits mid-job, and returns their IDs.
// Run it before submitting work: it cannot tell this process's own jobs
// apart.
func (o *Orchestrator) RecoverStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	return RecoverStale(ctx, o.opts.Store, maxAge, o.logger)
}

// RecoverStale is Orchestrator.RecoverStale for callers holding only a store.
func RecoverStale(ctx context.Context, st store.Store, maxAge time.Duration, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	failure := types.FailureFrom(fmt.Errorf("job abandoned: no progress recorded for %s", maxAge))
	ids, err := st.FailStale(ctx, time.Now().Add(-maxAge), failure)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		logger.Warn("Stale job failed", zap.String("job", id), zap.Duration("max_age", maxAge))
	}
	return ids, nil
}

type result struct {
	verdict     *types.ThermalVerdict
	score       *types.AnomalyScore
	energyImage string
}

// interrupted reports why ctx ended, or nil while it is live.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// analyze runs the pipeline steps. A non-nil verdict may accompany an error
// so rejections keep their diagnostics.
func (o *Orchestrator) analyze(ctx context.Context, job *types.Job, log *zap.Logger) (result, error) {
	var res result
	// stepErr prefers the context cause so timeouts are not reported as
	// whatever the interrupted step returned.
	stepErr := func(err error) error {
		if cause := interrupted(ctx); cause != nil {
			return cause
		}
		return err
	}
	path := job.VideoPath
	dir := WorkDir(o.opts.OutputDir, job.VideoPath, job.VideoID)

	if o.opts.Repair {
		o.step(job, StepRepairing)
		repaired, err := video.RepairIfNeeded(ctx, path, dir, log)
		if err != nil {
			return res, stepErr(fmt.Errorf("%w: %v", types.ErrUnreadableVideo, err))
		}
		path = repaired
	}
	if err := interrupted(ctx); err != nil {
		return res, err
	}

	o.step(job, StepValidating)
	verdict, err := o.opts.Validator.Validate(ctx, path)
	if err != nil {
		return res, stepErr(err)
	}
	res.verdict = &verdict
	if !verdict.Accepted {
		return res, fmt.Errorf("%w: %s", types.ErrNonThermalFootage, verdict.Reason)
	}
	if err := interrupted(ctx); err != nil {
		return res, err
	}

	o.step(job, StepBuilding)
	img, err := o.opts.Builder.Build(ctx, path)
	if err != nil {
		return res, stepErr(err)
	}
	if err := interrupted(ctx); err != nil {
		return res, err
	}

	o.step(job, StepRendering)
	paths, err := render.SaveEnergyImage(img, dir, HeatMapTitle)
	if err != nil {
		log.Warn("Energy image not saved", zap.Error(err))
	} else {
		res.energyImage = paths.HeatMap
	}
	if err := interrupted(ctx); err != nil {
		return res, err
	}

	// Inference runs to completion once started.
	o.step(job, StepScoring)
	name := job.VideoName
	if name == "" {
		name = filepath.Base(job.VideoPath)
	}
	score, err := o.opts.Engine.ScoreVideo(name, img)
	if err != nil {
		return res, err
	}
	res.score = &score
	return res, nil
}

// WorkDir is where one video's energy images and repaired copy are written:
// <outputDir>/<videoID>, or <video dir>/gei/<videoID> when outputDir is
// empty.
func WorkDir(outputDir, videoPath, videoID string) string {
	if outputDir == "" {
		return filepath.Join(filepath.Dir(videoPath), "gei", videoID)
	}
	return filepath.Join(outputDir, videoID)
}
