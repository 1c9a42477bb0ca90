package render

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/thermalgait/internal/types"
)

func gradient(size int) *types.EnergyImage {
	img := &types.EnergyImage{Size: size, Pix: make([]float64, size*size), FramesUsed: 1}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Pix[y*size+x] = float64(x) / float64(size-1)
		}
	}
	return img
}

func TestGrayscale(t *testing.T) {
	g := Grayscale(gradient(8))
	assert.Equal(t, uint8(0), g.GrayAt(0, 3).Y)
	assert.Equal(t, uint8(255), g.GrayAt(7, 3).Y)
}

func TestEnergyGridFlipsRows(t *testing.T) {
	img := &types.EnergyImage{Size: 2, Pix: []float64{1, 0, 0, 0}}
	g := energyGrid{img}
	c, r := g.Dims()
	assert.Equal(t, 2, c)
	assert.Equal(t, 2, r)
	assert.Equal(t, 1.0, g.Z(0, 1), "top-left pixel is the highest plot row")
	assert.Equal(t, 0.0, g.Z(0, 0))
}

func TestSaveEnergyImage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gei", "vid-1")
	paths, err := SaveEnergyImage(gradient(16), dir, "corridor.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, HeatMapName), paths.HeatMap)

	f, err := os.Open(paths.Grayscale)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())

	info, err := os.Stat(paths.HeatMap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
