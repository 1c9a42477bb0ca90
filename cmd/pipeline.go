package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/thermalgait/internal/config"
	"github.com/andresmejia3/thermalgait/internal/gei"
	"github.com/andresmejia3/thermalgait/internal/jobs"
	"github.com/andresmejia3/thermalgait/internal/model"
	"github.com/andresmejia3/thermalgait/internal/notify"
	"github.com/andresmejia3/thermalgait/internal/scoring"
	"github.com/andresmejia3/thermalgait/internal/store"
	"github.com/andresmejia3/thermalgait/internal/thermal"
	"github.com/andresmejia3/thermalgait/internal/types"
	"github.com/andresmejia3/thermalgait/internal/video"
)

// components are the pipeline stages built from one configuration.
type components struct {
	validator *thermal.Validator
	builder   *gei.Builder
	engine    *scoring.Engine
	handle    *model.Handle
}

func newValidator(cfg *config.Config, opener video.Opener, logger *zap.Logger) *thermal.Validator {
	policy := thermal.DefaultPolicy()
	policy.Strict = cfg.Validation.Strict
	return thermal.NewValidator(opener, policy, cfg.Validation.SampleFrames, logger)
}

func newBuilder(cfg *config.Config, opener video.Opener, logger *zap.Logger) (*gei.Builder, error) {
	return gei.NewBuilder(opener, gei.Params{
		TargetSize: cfg.Energy.TargetSize,
		ClipLimit:  cfg.Energy.ClipLimit,
		GridSize:   cfg.Energy.GridSize,
		MaxFrames:  cfg.Energy.MaxFrames,
	}, logger)
}

// newHandle defers loading until the first score. The fallback
// architecture applies when the artifact carries no metadata.
func newHandle(cfg *config.Config, logger *zap.Logger) *model.Handle {
	return model.NewHandle(cfg.Scoring.ModelPath, model.Config{
		LatentDim:    cfg.Scoring.LatentDim,
		BaseChannels: cfg.Scoring.BaseChannels,
		ImageSize:    cfg.Energy.TargetSize,
	}, logger)
}

func newComponents(cfg *config.Config, opener video.Opener, logger *zap.Logger) (*components, error) {
	builder, err := newBuilder(cfg, opener, logger)
	if err != nil {
		return nil, err
	}
	handle := newHandle(cfg, logger)
	return &components{
		validator: newValidator(cfg, opener, logger),
		builder:   builder,
		engine:    scoring.NewEngine(handle, cfg.Scoring.Threshold, logger),
		handle:    handle,
	}, nil
}

// newNotifier mails alerts when an SMTP host is configured and logs them
// otherwise.
func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	n := cfg.Notify
	if n.SMTPHost == "" {
		return notify.Log{Logger: logger}
	}
	return notify.NewSMTP(notify.SMTPConfig{
		Host:        n.SMTPHost,
		Port:        n.SMTPPort,
		Username:    n.SMTPUsername,
		Password:    n.SMTPPassword,
		From:        n.SMTPSender,
		UseTLS:      n.SMTPUseTLS,
		Recipients:  n.Recipients,
		FrontendURL: n.FrontendURL,
		Timeout:     30 * time.Second,
	}, logger)
}

func newOrchestrator(cfg *config.Config, st store.Store, opener video.Opener, logger *zap.Logger, onStep func(*types.Job, jobs.Step)) (*jobs.Orchestrator, *components, error) {
	c, err := newComponents(cfg, opener, logger)
	if err != nil {
		return nil, nil, err
	}
	opts := jobs.Options{
		Store:     st,
		Validator: c.validator,
		Builder:   c.builder,
		Engine:    c.engine,
		Notifier:  newNotifier(cfg, logger),
		Workers:   cfg.Jobs.Workers,
		Timeout:   cfg.Jobs.Timeout(),
		Repair:    cfg.Video.Repair,
		OutputDir: cfg.Energy.OutputDir,
		Logger:    logger,
		OnStep:    onStep,
	}
	o, err := jobs.New(opts)
	return o, c, err
}

// startOrchestrator builds the orchestrator and fails jobs an earlier
// process abandoned, so their videos can be analysed again.
func startOrchestrator(ctx context.Context, onStep func(*types.Job, jobs.Step)) (*jobs.Orchestrator, error) {
	o, _, err := newOrchestrator(Cfg, DB, video.FFmpegOpener{Logger: Logger}, Logger, onStep)
	if err != nil {
		return nil, err
	}
	ids, err := o.RecoverStale(ctx, Cfg.Jobs.StaleAfter())
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if len(ids) > 0 {
		fmt.Fprintf(os.Stderr, "🧹 Failed %d stale jobs left active by an earlier run\n", len(ids))
	}
	return o, nil
}
