package scoring

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/thermalgait/internal/model"
	"github.com/andresmejia3/thermalgait/internal/types"
)

var cfg = model.Config{LatentDim: 4, BaseChannels: 2, ImageSize: 16}

// zeroEngine scores every image with a network that reconstructs 0.5
// everywhere and maps everything to the origin of latent space.
func zeroEngine(t *testing.T, threshold float64, stats bool) *Engine {
	t.Helper()
	w := model.NewWeights(cfg)
	if stats {
		w[model.LatentMeanKey] = &model.Tensor{Shape: []int{4}, Data: []float64{0.6, 0, 0, 0}}
		cov := model.NewTensor(4, 4)
		for i := 0; i < 4; i++ {
			cov.Data[i*4+i] = 1
		}
		w[model.LatentCovInvKey] = cov
	}
	ae, err := model.FromWeights(cfg, w)
	require.NoError(t, err)
	return NewEngine(model.Preloaded(ae), threshold, nil)
}

func blank(size int, v float64) *types.EnergyImage {
	img := &types.EnergyImage{Size: size, Pix: make([]float64, size*size), FramesUsed: 1}
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.5, Confidence(0.5, 0.5))
	assert.InDelta(t, 0.7, Confidence(0.6, 0.5), 1e-12)
	assert.InDelta(t, 0.7, Confidence(0.4, 0.5), 1e-12)
	assert.Equal(t, MaxConfidence, Confidence(5, 0.5))

	prev := Confidence(0.5, 0.5)
	for d := 0.01; d < 0.25; d += 0.01 {
		c := Confidence(0.5+d, 0.5)
		assert.Greater(t, c, prev)
		prev = c
	}
}

func TestCombine(t *testing.T) {
	assert.InDelta(t, 0.5, Combine(0.4, 0.6), 1e-12)
	assert.Equal(t, 0.0, Combine(0, 0))
}

func TestScoreEuclidean(t *testing.T) {
	e := zeroEngine(t, 0.5, false)

	// Reconstruction is 0.5 everywhere, so a zero image gives error 0.25.
	s, err := e.Score(blank(16, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, s.ReconstructionError, 1e-12)
	assert.Zero(t, s.LatentDistance)
	assert.Equal(t, model.MetricEuclidean, s.LatentMetric)
	assert.InDelta(t, 0.125, s.CombinedScore, 1e-12)
	assert.False(t, s.ThreatDetected)
	assert.Equal(t, MaxConfidence, s.Confidence, "far from the boundary confidence saturates")
	assert.InDelta(t, 1-s.Confidence, s.ThreatConfidence, 1e-12)
	assert.Equal(t, AlgorithmVersion, s.AlgorithmVersion)
	assert.Equal(t, cfg.Info(), s.Model)
}

func TestScoreAtThresholdIsThreat(t *testing.T) {
	// recon 0.25 and Mahalanobis distance 0.6 combine to 0.425.
	e := zeroEngine(t, 0.425, true)

	s, err := e.Score(blank(16, 0))
	require.NoError(t, err)
	assert.Equal(t, model.MetricMahalanobis, s.LatentMetric)
	assert.InDelta(t, 0.6, s.LatentDistance, 1e-12)
	require.InDelta(t, 0.425, s.CombinedScore, 1e-12)

	exact := NewEngine(e.handle, s.CombinedScore, nil)
	s, err = exact.Score(blank(16, 0))
	require.NoError(t, err)
	assert.True(t, s.ThreatDetected)
	assert.Equal(t, 0.5, s.Confidence)
	assert.Equal(t, s.Confidence, s.ThreatConfidence)
}

func TestScoreInferenceErrors(t *testing.T) {
	e := zeroEngine(t, 0.5, false)

	_, err := e.Score(blank(64, 0))
	assert.ErrorIs(t, err, types.ErrModelInference, "size mismatch")

	_, err = e.Score(&types.EnergyImage{})
	assert.ErrorIs(t, err, types.ErrModelInference, "empty image")

	nan := blank(16, 0)
	nan.Pix[3] = math.NaN()
	_, err = e.Score(nan)
	assert.ErrorIs(t, err, types.ErrModelInference, "non-finite input")

	missing := NewEngine(model.NewHandle(filepath.Join(t.TempDir(), "none.safetensors"), cfg, nil), 0.5, nil)
	_, err = missing.Score(blank(16, 0))
	assert.ErrorIs(t, err, types.ErrModelInference, "unloadable artifact")
}
