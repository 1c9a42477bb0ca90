package model

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handle lazily loads an artifact exactly once and shares the result.
// A failed load is not cached, so a later call can retry.
type Handle struct {
	path     string
	fallback Config
	logger   *zap.Logger

	mu    sync.Mutex
	model atomic.Pointer[Autoencoder]
	loads atomic.Int32
}

// NewHandle prepares a handle for the artifact at path. fallback supplies
// the architecture when the artifact carries no metadata.
func NewHandle(path string, fallback Config, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{path: path, fallback: fallback, logger: logger}
}

// Preloaded wraps an already built network.
func Preloaded(ae *Autoencoder) *Handle {
	h := &Handle{logger: zap.NewNop()}
	h.model.Store(ae)
	return h
}

// Path returns the artifact path.
func (h *Handle) Path() string { return h.path }

// Loaded reports whether the network is in memory.
func (h *Handle) Loaded() bool { return h.model.Load() != nil }

// Loads reports how many times the artifact was read from disk.
func (h *Handle) Loads() int { return int(h.loads.Load()) }

// Load reads the artifact if it has not been read yet.
func (h *Handle) Load() error {
	_, err := h.Get()
	return err
}

// Get returns the network, loading it on first use.
func (h *Handle) Get() (*Autoencoder, error) {
	if ae := h.model.Load(); ae != nil {
		return ae, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ae := h.model.Load(); ae != nil {
		return ae, nil
	}

	start := time.Now()
	h.loads.Add(1)
	ae, err := LoadFile(h.path, h.fallback)
	if err != nil {
		return nil, err
	}
	h.model.Store(ae)
	h.logger.Info("Model loaded",
		zap.String("path", h.path),
		zap.Int("latent_dim", ae.cfg.LatentDim),
		zap.Int("base_channels", ae.cfg.BaseChannels),
		zap.Bool("latent_stats", ae.HasLatentStats()),
		zap.Duration("elapsed", time.Since(start)))
	return ae, nil
}

// LoadFile reads a safetensors artifact. Architecture metadata in the file
// (latent_dim, base_channels, image_size) overrides fallback.
func LoadFile(path string, fallback Config) (*Autoencoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model artifact: %w", err)
	}
	defer f.Close()

	weights, meta, err := ReadSafetensors(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", path, err)
	}
	cfg, err := configFromMetadata(meta, fallback)
	if err != nil {
		return nil, err
	}
	ae, err := FromWeights(cfg, weights)
	if err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return ae, nil
}

// SaveFile writes weights with their architecture metadata.
func SaveFile(path string, cfg Config, w Weights) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	meta := map[string]string{
		"latent_dim":    strconv.Itoa(cfg.LatentDim),
		"base_channels": strconv.Itoa(cfg.BaseChannels),
		"image_size":    strconv.Itoa(cfg.ImageSize),
	}
	if err := WriteSafetensors(f, w, meta); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func configFromMetadata(meta map[string]string, cfg Config) (Config, error) {
	fields := []struct {
		key string
		dst *int
	}{
		{"latent_dim", &cfg.LatentDim},
		{"base_channels", &cfg.BaseChannels},
		{"image_size", &cfg.ImageSize},
	}
	for _, f := range fields {
		v, ok := meta[f.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s metadata %q: %w", f.key, v, err)
		}
		*f.dst = n
	}
	return cfg, nil
}
