package types

import "time"

// VideoAsset is a reference to an uploaded clip. The core never mutates it.
type VideoAsset struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Name string `json:"name,omitempty"` // original filename, used in alerts
}

// FrameClass is the per-frame outcome of the thermal classifier.
type FrameClass string

const (
	FrameThermal   FrameClass = "thermal"
	FrameRGB       FrameClass = "rgb"
	FrameUncertain FrameClass = "uncertain"
)

// FrameDiagnostic records how a single sampled frame was classified.
type FrameDiagnostic struct {
	Index           int        `json:"index"`
	Class           FrameClass `json:"class"`
	SingleChannel   bool       `json:"single_channel,omitempty"`
	HueStd          float64    `json:"hue_std"`
	MeanSaturation  float64    `json:"mean_saturation"`
	ValueStd        float64    `json:"value_std"`
	Colorfulness    float64    `json:"colorfulness"`
	MeanSpread      float64    `json:"mean_spread"`
	ColorfulRatio   float64    `json:"colorful_ratio"`
	UniqueHueBins   int        `json:"unique_hue_bins"`
	UniqueSatBins   int        `json:"unique_sat_bins"`
	DominantHueBins int        `json:"dominant_hue_bins"`
}

// ThermalVerdict is produced once per validation call.
// ThermalRatio + RGBRatio + UncertainRatio == 1 over FramesSampled.
type ThermalVerdict struct {
	Accepted          bool              `json:"accepted"`
	ThermalRatio      float64           `json:"thermal_ratio"`
	RGBRatio          float64           `json:"rgb_ratio"`
	UncertainRatio    float64           `json:"uncertain_ratio"`
	FramesSampled     int               `json:"frames_sampled"`
	MeanColorfulness  float64           `json:"mean_colorfulness"`
	MeanSaturation    float64           `json:"mean_saturation"`
	Reason            string            `json:"reason,omitempty"`
	SoftRuleTriggered bool              `json:"soft_rule_triggered,omitempty"`
	Samples           []FrameDiagnostic `json:"samples,omitempty"`
}

// EnergyImage is the temporal mean of per-frame silhouettes, row-major,
// Size*Size values in [0,1].
type EnergyImage struct {
	Size       int       `json:"size"`
	Pix        []float64 `json:"-"`
	FramesUsed int       `json:"frames_used"`
}

// At returns the energy at column x, row y.
func (e *EnergyImage) At(x, y int) float64 {
	return e.Pix[y*e.Size+x]
}

// Mean returns the average energy over the whole image.
func (e *EnergyImage) Mean() float64 {
	if len(e.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range e.Pix {
		sum += v
	}
	return sum / float64(len(e.Pix))
}

// ModelInfo describes the architecture that produced a score.
type ModelInfo struct {
	LatentDim    int `json:"latent_dim"`
	BaseChannels int `json:"base_channels"`
	ImageSize    int `json:"image_size"`
}

// AnomalyScore is the output of the scoring engine.
type AnomalyScore struct {
	ReconstructionError float64   `json:"reconstruction_error"`
	LatentDistance      float64   `json:"latent_score"`
	LatentMetric        string    `json:"latent_metric"`
	CombinedScore       float64   `json:"combined_score"`
	Threshold           float64   `json:"threshold"`
	ThreatDetected      bool      `json:"threat_detected"`
	Confidence          float64   `json:"confidence_score"`
	ThreatConfidence    float64   `json:"threat_confidence"`
	AlgorithmVersion    string    `json:"algorithm_version"`
	Model               ModelInfo `json:"model_config"`
	ProcessingTime      string    `json:"processing_time,omitempty"`
}

// Job is one analysis run over one video.
type Job struct {
	ID              string          `json:"id"`
	VideoID         string          `json:"video_id"`
	VideoPath       string          `json:"video_path"`
	VideoName       string          `json:"video_name,omitempty"`
	Status          Status          `json:"status"`
	Verdict         *ThermalVerdict `json:"thermal_verdict,omitempty"`
	Score           *AnomalyScore   `json:"score,omitempty"`
	Failure         *Failure        `json:"failure,omitempty"`
	EnergyImagePath string          `json:"energy_image_path,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// Asset returns the video reference the job was created for.
func (j *Job) Asset() VideoAsset {
	return VideoAsset{ID: j.VideoID, Path: j.VideoPath, Name: j.VideoName}
}
