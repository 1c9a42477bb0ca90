package thermal

import (
	"math"

	"github.com/andresmejia3/thermalgait/internal/imgproc"
)

const (
	hueBins = 18 // 10 OpenCV hue units each
	satBins = 16 // 16 saturation units each

	// Pixels below this saturation carry no meaningful hue.
	chromaticSaturation = 20

	// A histogram bin counts as occupied above this share of its pixels.
	occupiedBinShare = 0.005
	// A hue bin counts as dominant above this share of chromatic pixels.
	dominantBinShare = 0.05
)

// FrameStats are the colour metrics of one downscaled RGB frame.
type FrameStats struct {
	MeanSaturation  float64
	ValueStd        float64
	HueStd          float64 // circular, in OpenCV hue units
	Colorfulness    float64
	MeanSpread      float64
	ColorfulRatio   float64
	UniqueHueBins   int
	UniqueSatBins   int
	DominantHueBins int
}

// ComputeStats measures an interleaved RGB buffer. Pixels whose max-min
// channel spread exceeds sensitivity count towards ColorfulRatio.
func ComputeStats(pix []byte, w, h int, sensitivity int) (FrameStats, error) {
	n := w * h
	if n == 0 {
		return FrameStats{}, nil
	}
	hsv, err := imgproc.HSV(pix, w, h)
	if err != nil {
		return FrameStats{}, err
	}
	var (
		st        FrameStats
		hueHist   [hueBins]int
		satHist   [satBins]int
		chromatic int
		satSum    float64
		spreadSum float64
		colorful  int
		sinSum    float64
		cosSum    float64

		rgSum, rgSq float64
		ybSum, ybSq float64
		vSum, vSq   float64
	)
	for i := 0; i < n; i++ {
		r, g, b := pix[i*3], pix[i*3+1], pix[i*3+2]
		hue, sat, val := hsv[i*3], hsv[i*3+1], hsv[i*3+2]

		vSum += float64(val)
		vSq += float64(val) * float64(val)
		satSum += float64(sat)
		satHist[int(sat)/16]++
		if sat >= chromaticSaturation {
			chromatic++
			hueHist[int(hue)/10]++
			a := float64(hue) * math.Pi / 90
			sinSum += math.Sin(a)
			cosSum += math.Cos(a)
		}

		spread := int(max(r, g, b)) - int(min(r, g, b))
		spreadSum += float64(spread)
		if spread > sensitivity {
			colorful++
		}

		rg := float64(r) - float64(g)
		yb := 0.5*(float64(r)+float64(g)) - float64(b)
		rgSum += rg
		rgSq += rg * rg
		ybSum += yb
		ybSq += yb * yb
	}

	fn := float64(n)
	st.MeanSaturation = satSum / fn
	st.MeanSpread = spreadSum / fn
	st.ColorfulRatio = float64(colorful) / fn
	vMean := vSum / fn
	st.ValueStd = math.Sqrt(math.Max(vSq/fn-vMean*vMean, 0))

	rgMean, ybMean := rgSum/fn, ybSum/fn
	rgVar := math.Max(rgSq/fn-rgMean*rgMean, 0)
	ybVar := math.Max(ybSq/fn-ybMean*ybMean, 0)
	st.Colorfulness = math.Sqrt(rgVar+ybVar) + 0.3*math.Sqrt(rgMean*rgMean+ybMean*ybMean)

	for _, c := range satHist {
		if float64(c) > occupiedBinShare*fn {
			st.UniqueSatBins++
		}
	}
	if chromatic > 0 {
		fc := float64(chromatic)
		for _, c := range hueHist {
			if float64(c) > occupiedBinShare*fc {
				st.UniqueHueBins++
			}
			if float64(c) > dominantBinShare*fc {
				st.DominantHueBins++
			}
		}
		st.HueStd = circularStd(sinSum/fc, cosSum/fc)
	}
	return st, nil
}

// circularStd converts a mean resultant vector to a circular standard
// deviation in OpenCV hue units (half degrees), capped at 90.
func circularStd(meanSin, meanCos float64) float64 {
	r := math.Hypot(meanSin, meanCos)
	if r >= 1 {
		return 0
	}
	if r <= 1e-12 {
		return 90
	}
	return math.Min(math.Sqrt(-2*math.Log(r))*90/math.Pi, 90)
}
