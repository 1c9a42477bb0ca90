// Package config loads thermalgait settings: built-in defaults, then an
// optional TOML file, then a .env file, then environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultDatabaseURL    = "thermalgait.db"
	DefaultLogLevel       = "info"
	DefaultSampleFrames   = 12
	DefaultTargetSize     = 64
	DefaultClipLimit      = 2.0
	DefaultGridSize       = 8
	DefaultThreshold      = 0.50
	DefaultModelPath      = "models/gait_autoencoder.safetensors"
	DefaultLatentDim      = 64
	DefaultBaseChannels   = 32
	DefaultTimeoutSeconds = 300
	DefaultWorkers        = 2
	DefaultSMTPPort       = 587
)

// Config holds the application configuration.
type Config struct {
	Database   Database   `toml:"database"`
	Logging    Logging    `toml:"logging"`
	Video      Video      `toml:"video"`
	Validation Validation `toml:"validation"`
	Energy     Energy     `toml:"energy"`
	Scoring    Scoring    `toml:"scoring"`
	Jobs       Jobs       `toml:"jobs"`
	Notify     Notify     `toml:"notify"`

	// Path is the file the config was read from, if any.
	Path string `toml:"-"`
}

type Database struct {
	URL string `toml:"url"`
}

type Logging struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type Video struct {
	// Repair re-encodes clips whose container lacks frame dimensions into a
	// copy under the video's work directory. The input is never rewritten.
	Repair bool `toml:"repair"`
}

type Validation struct {
	SampleFrames int  `toml:"sample_frames"`
	Strict       bool `toml:"strict"`
}

type Energy struct {
	TargetSize int     `toml:"target_size"`
	ClipLimit  float64 `toml:"clip_limit"`
	GridSize   int     `toml:"grid_size"`
	MaxFrames  int     `toml:"max_frames"`
	// OutputDir receives one directory per video for rendered energy images
	// and repaired copies. Empty means gei/<video id>/ next to the video.
	OutputDir string `toml:"output_dir"`
}

type Scoring struct {
	Threshold    float64 `toml:"threshold"`
	ModelPath    string  `toml:"model_path"`
	LatentDim    int     `toml:"latent_dim"`
	BaseChannels int     `toml:"base_channels"`
}

type Jobs struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	Workers        int `toml:"workers"`
}

type Notify struct {
	SMTPHost     string   `toml:"smtp_host"`
	SMTPPort     int      `toml:"smtp_port"`
	SMTPUsername string   `toml:"smtp_username"`
	SMTPPassword string   `toml:"smtp_password"`
	SMTPSender   string   `toml:"smtp_sender"`
	SMTPUseTLS   bool     `toml:"smtp_use_tls"`
	Recipients   []string `toml:"recipients"`
	FrontendURL  string   `toml:"frontend_url"`
}

// Timeout is the per-job processing budget.
func (j Jobs) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// StaleAfter is how long a job may stay pending or processing before it is
// treated as abandoned. No live worker holds a job past twice its timeout.
func (j Jobs) StaleAfter() time.Duration {
	return 2 * j.Timeout()
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Database: Database{URL: DefaultDatabaseURL},
		Logging:  Logging{Level: DefaultLogLevel},
		Video:    Video{Repair: true},
		Validation: Validation{
			SampleFrames: DefaultSampleFrames,
		},
		Energy: Energy{
			TargetSize: DefaultTargetSize,
			ClipLimit:  DefaultClipLimit,
			GridSize:   DefaultGridSize,
		},
		Scoring: Scoring{
			Threshold:    DefaultThreshold,
			ModelPath:    DefaultModelPath,
			LatentDim:    DefaultLatentDim,
			BaseChannels: DefaultBaseChannels,
		},
		Jobs: Jobs{
			TimeoutSeconds: DefaultTimeoutSeconds,
			Workers:        DefaultWorkers,
		},
		Notify: Notify{SMTPPort: DefaultSMTPPort, SMTPUseTLS: true},
	}
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error. A .env file in the working directory is read
// if present and never overrides variables already set.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("config %s: %s", path, strict.String())
			}
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		cfg.Path = path
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	flag := func(key string, dst *bool) error {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}

	str("DATABASE_URL", &c.Database.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FILE", &c.Logging.File)
	str("MODEL_PATH", &c.Scoring.ModelPath)
	str("SMTP_SERVER", &c.Notify.SMTPHost)
	str("SMTP_USERNAME", &c.Notify.SMTPUsername)
	str("SMTP_PASSWORD", &c.Notify.SMTPPassword)
	str("SMTP_SENDER", &c.Notify.SMTPSender)
	str("FRONTEND_BASE_URL", &c.Notify.FrontendURL)

	if v, ok := os.LookupEnv("ML_THREAT_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ML_THREAT_THRESHOLD: %w", err)
		}
		c.Scoring.Threshold = f
	}
	if v, ok := os.LookupEnv("ALERT_EMAIL_RECIPIENTS"); ok {
		c.Notify.Recipients = splitList(v)
	}
	for key, dst := range map[string]*int{
		"PROCESSING_TIMEOUT_SECONDS": &c.Jobs.TimeoutSeconds,
		"ANALYSIS_WORKERS":           &c.Jobs.Workers,
		"SMTP_PORT":                  &c.Notify.SMTPPort,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*bool{
		"THERMAL_STRICT": &c.Validation.Strict,
		"SMTP_USE_TLS":   &c.Notify.SMTPUseTLS,
		"VIDEO_REPAIR":   &c.Video.Repair,
	} {
		if err := flag(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url must be set"))
	}
	if c.Validation.SampleFrames < 1 {
		errs = append(errs, fmt.Errorf("validation.sample_frames must be positive, got %d", c.Validation.SampleFrames))
	}
	if c.Energy.TargetSize < 8 || c.Energy.TargetSize%8 != 0 {
		errs = append(errs, fmt.Errorf("energy.target_size must be a positive multiple of 8, got %d", c.Energy.TargetSize))
	}
	if c.Energy.GridSize < 1 {
		errs = append(errs, fmt.Errorf("energy.grid_size must be positive, got %d", c.Energy.GridSize))
	}
	if c.Energy.ClipLimit < 0 {
		errs = append(errs, fmt.Errorf("energy.clip_limit must not be negative, got %g", c.Energy.ClipLimit))
	}
	if c.Scoring.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("scoring.threshold must be positive, got %g", c.Scoring.Threshold))
	}
	if c.Scoring.ModelPath == "" {
		errs = append(errs, errors.New("scoring.model_path must be set"))
	}
	if c.Jobs.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("jobs.timeout_seconds must be positive, got %d", c.Jobs.TimeoutSeconds))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, fmt.Errorf("jobs.workers must be positive, got %d", c.Jobs.Workers))
	}
	return errors.Join(errs...)
}
