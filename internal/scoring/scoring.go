// Package scoring turns an energy image into a threat verdict using the
// autoencoder's reconstruction error and latent distance.
package scoring

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/thermalgait/internal/model"
	"github.com/andresmejia3/thermalgait/internal/types"
)

const (
	// DefaultThreshold is the calibrated decision boundary.
	DefaultThreshold = 0.50

	// Signal weights. Fixed, not learned.
	ReconstructionWeight = 0.5
	LatentWeight         = 0.5

	// MaxConfidence caps the boundary-distance heuristic.
	MaxConfidence = 0.99

	AlgorithmVersion = "ConvAutoencoder_v1.0_thermal_adapted"
)

// Combine is the weighted sum of the two anomaly signals.
func Combine(recon, latent float64) float64 {
	return ReconstructionWeight*recon + LatentWeight*latent
}

// Confidence grows linearly with the distance of combined from threshold
// and saturates at MaxConfidence. It is 0.5 on the boundary.
func Confidence(combined, threshold float64) float64 {
	return math.Min(0.5+2*math.Abs(combined-threshold), MaxConfidence)
}

// Engine scores energy images against one model and threshold.
type Engine struct {
	handle    *model.Handle
	threshold float64
	logger    *zap.Logger
}

// NewEngine binds a model handle and a threshold.
func NewEngine(handle *model.Handle, threshold float64, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{handle: handle, threshold: threshold, logger: logger}
}

// Threshold returns the decision boundary.
func (e *Engine) Threshold() float64 { return e.threshold }

// Score runs inference on img. Every failure wraps ErrModelInference.
func (e *Engine) Score(img *types.EnergyImage) (types.AnomalyScore, error) {
	return e.ScoreVideo("", img)
}

// ScoreVideo is Score with the video name attached to the calibration log.
func (e *Engine) ScoreVideo(video string, img *types.EnergyImage) (types.AnomalyScore, error) {
	start := time.Now()
	if img == nil || len(img.Pix) == 0 {
		return types.AnomalyScore{}, fmt.Errorf("%w: empty energy image", types.ErrModelInference)
	}
	ae, err := e.handle.Get()
	if err != nil {
		return types.AnomalyScore{}, fmt.Errorf("%w: %v", types.ErrModelInference, err)
	}
	if img.Size != ae.Config().ImageSize {
		return types.AnomalyScore{}, fmt.Errorf("%w: energy image is %dx%d, model expects %dx%d",
			types.ErrModelInference, img.Size, img.Size, ae.Config().ImageSize, ae.Config().ImageSize)
	}

	z, recon, err := ae.Forward(img.Pix)
	if err != nil {
		return types.AnomalyScore{}, fmt.Errorf("%w: %v", types.ErrModelInference, err)
	}
	reconErr := model.ReconstructionError(img.Pix, recon)
	latent, metric := ae.LatentDistance(z)
	if !finite(reconErr) || !finite(latent) {
		return types.AnomalyScore{}, fmt.Errorf("%w: non-finite score (recon=%v latent=%v)", types.ErrModelInference, reconErr, latent)
	}

	combined := Combine(reconErr, latent)
	threat := combined >= e.threshold
	conf := Confidence(combined, e.threshold)
	threatConf := conf
	if !threat {
		threatConf = 1 - conf
	}

	e.logger.Warn("CALIBRATION",
		zap.String("video", video),
		zap.Float64("recon_error", reconErr),
		zap.Float64("latent_score", latent),
		zap.String("latent_metric", metric),
		zap.Float64("combined", combined),
		zap.Float64("threshold", e.threshold),
		zap.Float64("delta", combined-e.threshold))

	return types.AnomalyScore{
		ReconstructionError: reconErr,
		LatentDistance:      latent,
		LatentMetric:        metric,
		CombinedScore:       combined,
		Threshold:           e.threshold,
		ThreatDetected:      threat,
		Confidence:          conf,
		ThreatConfidence:    threatConf,
		AlgorithmVersion:    AlgorithmVersion,
		Model:               ae.Config().Info(),
		ProcessingTime:      time.Since(start).Round(time.Millisecond).String(),
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
