package thermal

import (
	"fmt"

	"github.com/andresmejia3/thermalgait/internal/types"
)

// Policy holds every threshold the classifier uses. The per-frame rules and
// the aggregate decision are pure functions of a Policy and the measured
// metrics.
type Policy struct {
	// Grayscale-like profile.
	GraySaturationMax   float64
	GrayColorfulnessMax float64

	// False-colour palette profile (ironbow, rainbow).
	PaletteSatBinsMax    int
	PaletteHueBinsMax    int
	PaletteSaturationMin float64
	PaletteHueStdMax     float64

	// Frames whose brightness barely varies are a flat colour field. A
	// palette rendering always carries the scene's intensity structure.
	FlatFieldValueStdMax float64

	// RGB profile.
	RGBSatBinsMin       int
	RGBSaturationMin    float64
	RGBColorfulnessMin  float64
	RGBColorfulRatioMin float64
	RGBSpreadMin        float64
	RGBHueBinsMin       int
	SpreadSensitivity   int

	// Early stop once rgb frames are a majority of at least this many.
	EarlyStopMinFrames int

	// Aggregate hard rules.
	RGBRatioCut          float64
	ColorfulnessCut      float64
	UncertainRatioCut    float64
	UncertainThermalMax  float64
	SaturationCut        float64
	SaturationThermalMax float64

	// Soft rule, enforced only when Strict.
	SoftRGBRatio   float64
	SoftThermalMax float64
	Strict         bool
}

// DefaultPolicy returns the calibrated thresholds with strict mode off.
func DefaultPolicy() Policy {
	return Policy{
		GraySaturationMax:   30,
		GrayColorfulnessMax: 15,

		PaletteSatBinsMax:    6,
		PaletteHueBinsMax:    6,
		PaletteSaturationMin: 50,
		PaletteHueStdMax:     25,
		FlatFieldValueStdMax: 2,

		RGBSatBinsMin:       8,
		RGBSaturationMin:    80,
		RGBColorfulnessMin:  40,
		RGBColorfulRatioMin: 0.4,
		RGBSpreadMin:        60,
		RGBHueBinsMin:       10,
		SpreadSensitivity:   30,

		EarlyStopMinFrames: 3,

		RGBRatioCut:          0.3,
		ColorfulnessCut:      35,
		UncertainRatioCut:    0.5,
		UncertainThermalMax:  0.3,
		SaturationCut:        100,
		SaturationThermalMax: 0.5,

		SoftRGBRatio:   0.2,
		SoftThermalMax: 0.4,
	}
}

func (p Policy) grayscaleLike(s FrameStats) bool {
	return s.MeanSaturation < p.GraySaturationMax && s.Colorfulness < p.GrayColorfulnessMax
}

func (p Policy) flatField(s FrameStats) bool {
	return s.ValueStd < p.FlatFieldValueStdMax
}

func (p Policy) paletteLike(s FrameStats) bool {
	return !p.flatField(s) &&
		s.UniqueSatBins <= p.PaletteSatBinsMax &&
		s.DominantHueBins <= p.PaletteHueBinsMax &&
		s.MeanSaturation >= p.PaletteSaturationMin &&
		s.HueStd <= p.PaletteHueStdMax
}

// saturatedField matches a uniformly coloured visible-light frame.
func (p Policy) saturatedField(s FrameStats) bool {
	return p.flatField(s) && s.MeanSaturation > p.RGBSaturationMin
}

func (p Policy) rgbLike(s FrameStats) bool {
	if s.UniqueSatBins < p.RGBSatBinsMin {
		return false
	}
	return (s.MeanSaturation > p.RGBSaturationMin && s.Colorfulness > p.RGBColorfulnessMin) ||
		(s.ColorfulRatio > p.RGBColorfulRatioMin && s.MeanSpread > p.RGBSpreadMin) ||
		s.UniqueHueBins >= p.RGBHueBinsMin
}

// Classify assigns one frame to thermal, rgb or uncertain.
func (p Policy) Classify(s FrameStats) types.FrameClass {
	switch {
	case p.grayscaleLike(s), p.paletteLike(s):
		return types.FrameThermal
	case p.rgbLike(s), p.saturatedField(s):
		return types.FrameRGB
	default:
		return types.FrameUncertain
	}
}

// ShouldStop reports whether sampling can end early.
func (p Policy) ShouldStop(rgb, examined int) bool {
	return examined >= p.EarlyStopMinFrames && rgb*2 > examined
}

// Tally is the aggregate input to Decide.
type Tally struct {
	Thermal, RGB, Uncertain int
	MeanColorfulness        float64
	MeanSaturation          float64
}

// Total is the number of classified frames.
func (t Tally) Total() int { return t.Thermal + t.RGB + t.Uncertain }

// Decision is the outcome of the aggregate rules.
type Decision struct {
	Accepted    bool
	Reason      string
	SoftTrigger bool
}

// Decide applies the rejection rules in order. Hard rules always reject;
// the soft rule rejects only in strict mode.
func (p Policy) Decide(t Tally) Decision {
	total := t.Total()
	if total == 0 {
		return Decision{Reason: "no frames sampled"}
	}
	thermal := float64(t.Thermal) / float64(total)
	rgb := float64(t.RGB) / float64(total)
	uncertain := float64(t.Uncertain) / float64(total)

	switch {
	case t.Thermal == 0:
		return Decision{Reason: "no thermal frames detected"}
	case rgb > p.RGBRatioCut && t.MeanColorfulness > p.ColorfulnessCut:
		return Decision{Reason: fmt.Sprintf("rgb ratio %.2f with mean colorfulness %.1f", rgb, t.MeanColorfulness)}
	case uncertain > p.UncertainRatioCut && thermal < p.UncertainThermalMax:
		return Decision{Reason: fmt.Sprintf("uncertain ratio %.2f with thermal ratio %.2f", uncertain, thermal)}
	case t.MeanSaturation > p.SaturationCut && thermal < p.SaturationThermalMax:
		return Decision{Reason: fmt.Sprintf("mean saturation %.1f with thermal ratio %.2f", t.MeanSaturation, thermal)}
	}

	if rgb > p.SoftRGBRatio && thermal < p.SoftThermalMax {
		reason := fmt.Sprintf("borderline footage: rgb ratio %.2f, thermal ratio %.2f", rgb, thermal)
		return Decision{Accepted: !p.Strict, Reason: reason, SoftTrigger: true}
	}
	return Decision{Accepted: true}
}
