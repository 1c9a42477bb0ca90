package imgproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestFromPixelsRejectsBadInput(t *testing.T) {
	_, err := FromPixels(make([]byte, 12), 2, 2, 2)
	assert.Error(t, err, "two channels")

	_, err = FromPixels(make([]byte, 5), 2, 2, 3)
	assert.Error(t, err, "short buffer")

	m, err := FromPixels(make([]byte, 12), 2, 2, 3)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 2, m.Cols())
	assert.Equal(t, 3, m.Channels())
}

func TestGrayFromRGB(t *testing.T) {
	m, err := Gray([]byte{255, 255, 255, 0, 0, 0, 255, 0, 0, 0, 255, 0}, 4, 1, 3)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, []byte{255, 0, 76, 150}, m.ToBytes())
}

func TestGraySingleChannel(t *testing.T) {
	m, err := Gray([]byte{1, 2, 3, 4}, 2, 2, 1)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, []byte{1, 2, 3, 4}, m.ToBytes())
}

func TestResizeAreaAverages(t *testing.T) {
	src, err := gocv.NewMatFromBytes(4, 4, gocv.MatTypeCV8UC1, []byte{
		0, 0, 100, 100,
		0, 0, 100, 100,
		200, 200, 40, 40,
		200, 200, 40, 40,
	})
	require.NoError(t, err)
	defer src.Close()

	dst := ResizeArea(src, 2, 2)
	defer dst.Close()
	assert.Equal(t, []byte{0, 100, 200, 40}, dst.ToBytes())
}

func TestDownscaleRGB(t *testing.T) {
	pix := []byte{
		255, 0, 0, 255, 0, 0,
		0, 0, 255, 0, 0, 255,
	}
	out, w, h, err := DownscaleRGB(pix, 2, 2, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
	assert.Equal(t, []byte{128, 0, 128}, out)

	same, w, h, err := DownscaleRGB(pix, 2, 2, 320, 240)
	require.NoError(t, err)
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
	assert.Equal(t, pix, same)
}

func TestFitWithin(t *testing.T) {
	w, h := FitWithin(640, 480, 320, 240)
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)

	w, h = FitWithin(100, 50, 320, 240)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	w, h = FitWithin(1920, 480, 320, 240)
	assert.Equal(t, 320, w)
	assert.Equal(t, 80, h)
}

func TestHSV(t *testing.T) {
	pix := []byte{
		255, 0, 0,
		0, 255, 0,
		0, 0, 255,
		128, 128, 128,
		0, 0, 0,
	}
	out, err := HSV(pix, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 255, 255,
		60, 255, 255,
		120, 255, 255,
		0, 0, 128,
		0, 0, 0,
	}, out)
}

func TestFloats(t *testing.T) {
	src, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC1, []byte{0, 255})
	require.NoError(t, err)
	defer src.Close()

	_, err = Floats(src)
	assert.Error(t, err, "8-bit input")

	unit := gocv.NewMat()
	defer unit.Close()
	src.ConvertToWithParams(&unit, gocv.MatTypeCV32F, 1.0/255, 0)
	vals, err := Floats(unit)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1}, vals, 1e-6)
}
