// Package render writes energy images to disk: a raw grayscale PNG for
// archival and a black-body heat map for people.
package render

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/andresmejia3/thermalgait/internal/types"
)

const (
	GrayscaleName = "gei_grayscale.png"
	HeatMapName   = "gei.png"
)

// Paths are the files written for one energy image.
type Paths struct {
	Grayscale string
	HeatMap   string
}

// SaveEnergyImage writes both renderings into dir, creating it if needed.
func SaveEnergyImage(img *types.EnergyImage, dir, title string) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	p := Paths{
		Grayscale: filepath.Join(dir, GrayscaleName),
		HeatMap:   filepath.Join(dir, HeatMapName),
	}
	if err := SaveGrayscale(img, p.Grayscale); err != nil {
		return Paths{}, err
	}
	if err := SaveHeatMap(img, p.HeatMap, title); err != nil {
		return Paths{}, err
	}
	return p, nil
}

// Grayscale converts energies in [0,1] to 8-bit intensities.
func Grayscale(img *types.EnergyImage) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, img.Size, img.Size))
	for i, v := range img.Pix {
		g.Pix[i] = uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
	}
	return g
}

// SaveGrayscale writes the energy image as a grayscale PNG.
func SaveGrayscale(img *types.EnergyImage, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, Grayscale(img)); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// energyGrid adapts an EnergyImage to plotter.GridXYZ. Row 0 of the image
// is the top, so rows are flipped for the plot's upward Y axis.
type energyGrid struct {
	img *types.EnergyImage
}

func (g energyGrid) Dims() (c, r int)   { return g.img.Size, g.img.Size }
func (g energyGrid) Z(c, r int) float64 { return g.img.At(c, g.img.Size-1-r) }
func (g energyGrid) X(c int) float64    { return float64(c) }
func (g energyGrid) Y(r int) float64    { return float64(r) }

// SaveHeatMap renders the energy image with the extended black-body
// palette on a fixed [0,1] scale, so images are comparable across videos.
func SaveHeatMap(img *types.EnergyImage, path, title string) error {
	cm := moreland.ExtendedBlackBody()
	cm.SetMin(0)
	cm.SetMax(1)

	h := plotter.NewHeatMap(energyGrid{img}, cm.Palette(255))
	h.Min, h.Max = 0, 1

	p := plot.New()
	p.Title.Text = title
	p.HideAxes()
	p.Add(h)

	if err := p.Save(4*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save heat map %s: %w", path, err)
	}
	return nil
}
