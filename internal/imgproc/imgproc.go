// Package imgproc adapts decoded frames to gocv matrices and back. The
// pixel operations themselves are OpenCV's, the same ones the scoring model
// was trained against.
package imgproc

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// FromPixels copies interleaved 8-bit pixels with 1 or 3 channels into a
// Mat. The caller must Close it.
func FromPixels(pix []byte, w, h, channels int) (gocv.Mat, error) {
	var mt gocv.MatType
	switch channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	default:
		return gocv.Mat{}, fmt.Errorf("unsupported channel count %d", channels)
	}
	n := w * h * channels
	if w < 1 || h < 1 || len(pix) < n {
		return gocv.Mat{}, fmt.Errorf("pixel buffer of %d bytes does not hold %dx%dx%d", len(pix), w, h, channels)
	}
	return gocv.NewMatFromBytes(h, w, mt, pix[:n])
}

// Gray returns a single-channel Mat of the frame, converting RGB with
// OpenCV's BT.601 weights. The caller must Close it.
func Gray(pix []byte, w, h, channels int) (gocv.Mat, error) {
	src, err := FromPixels(pix, w, h, channels)
	if err != nil || channels == 1 {
		return src, err
	}
	defer src.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)
	return gray, nil
}

// ResizeArea resamples src to w x h by pixel-area averaging. The caller must
// Close the result.
func ResizeArea(src gocv.Mat, w, h int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	return dst
}

// FitWithin scales (w, h) down to fit inside (maxW, maxH) keeping the
// aspect ratio. Sizes already inside are returned unchanged.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	s := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw, nh := int(float64(w)*s+0.5), int(float64(h)*s+0.5)
	return max(nw, 1), max(nh, 1)
}

// DownscaleRGB area-resamples interleaved RGB so it fits inside
// (maxW, maxH) and returns the new buffer and size. Small frames are
// returned as they are.
func DownscaleRGB(pix []byte, w, h, maxW, maxH int) ([]byte, int, int, error) {
	dw, dh := FitWithin(w, h, maxW, maxH)
	if dw == w && dh == h {
		return pix, w, h, nil
	}
	src, err := FromPixels(pix, w, h, 3)
	if err != nil {
		return nil, 0, 0, err
	}
	defer src.Close()

	dst := ResizeArea(src, dw, dh)
	defer dst.Close()
	return dst.ToBytes(), dw, dh, nil
}

// HSV converts interleaved RGB to interleaved 8-bit HSV with H in [0,180)
// and S, V in [0,255].
func HSV(pix []byte, w, h int) ([]byte, error) {
	src, err := FromPixels(pix, w, h, 3)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.CvtColor(src, &dst, gocv.ColorRGBToHSV)
	return dst.ToBytes(), nil
}

// Floats copies a single-channel float32 Mat into a float64 slice.
func Floats(m gocv.Mat) ([]float64, error) {
	if m.Type() != gocv.MatTypeCV32F {
		return nil, fmt.Errorf("expected a 32-bit float matrix, got %v", m.Type())
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}
