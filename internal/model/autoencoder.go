// Package model runs the convolutional autoencoder that scores gait
// energy images. Weights are loaded from a safetensors artifact exported
// from the training run; inference is pure Go.
package model

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/andresmejia3/thermalgait/internal/types"
)

// Config is the architecture of an artifact.
type Config struct {
	LatentDim    int `toml:"latent_dim"`
	BaseChannels int `toml:"base_channels"`
	ImageSize    int `toml:"image_size"`
}

// DefaultConfig matches the production artifact.
func DefaultConfig() Config {
	return Config{LatentDim: 64, BaseChannels: 32, ImageSize: 64}
}

// Validate checks the architecture is buildable. Three stride-2 stages
// need the image size to be a multiple of 8.
func (c Config) Validate() error {
	if c.LatentDim < 1 || c.BaseChannels < 1 {
		return fmt.Errorf("latent_dim and base_channels must be positive (got %d, %d)", c.LatentDim, c.BaseChannels)
	}
	if c.ImageSize < 8 || c.ImageSize%8 != 0 {
		return fmt.Errorf("image_size must be a positive multiple of 8, got %d", c.ImageSize)
	}
	return nil
}

// Info converts to the score metadata type.
func (c Config) Info() types.ModelInfo {
	return types.ModelInfo{LatentDim: c.LatentDim, BaseChannels: c.BaseChannels, ImageSize: c.ImageSize}
}

func (c Config) bottleneck() (ch, side int) {
	return c.BaseChannels * 4, c.ImageSize / 8
}

// Parameter names follow the exported state dict. Sequential indices skip
// the parameterless ReLU, Flatten and Unflatten layers.
var (
	encoderConvs = []string{"encoder.0", "encoder.3", "encoder.6"}
	encoderNorms = []string{"encoder.1", "encoder.4", "encoder.7"}
	encoderFC    = "encoder.10"
	decoderFC    = "decoder.0"
	decoderConvs = []string{"decoder.2", "decoder.5", "decoder.8"}
	decoderNorms = []string{"decoder.3", "decoder.6"}
)

const (
	LatentMeanKey   = "latent_mean"
	LatentCovInvKey = "latent_cov_inv"
)

// Layout returns the expected shape of every required parameter.
func Layout(cfg Config) map[string][]int {
	bc := cfg.BaseChannels
	ch, side := cfg.bottleneck()
	flat := ch * side * side
	layout := map[string][]int{}

	encIn := []int{1, bc, 2 * bc}
	encOut := []int{bc, 2 * bc, 4 * bc}
	for i := range encoderConvs {
		layout[encoderConvs[i]+".weight"] = []int{encOut[i], encIn[i], 4, 4}
		layout[encoderConvs[i]+".bias"] = []int{encOut[i]}
		addNorm(layout, encoderNorms[i], encOut[i])
	}
	layout[encoderFC+".weight"] = []int{cfg.LatentDim, flat}
	layout[encoderFC+".bias"] = []int{cfg.LatentDim}

	layout[decoderFC+".weight"] = []int{flat, cfg.LatentDim}
	layout[decoderFC+".bias"] = []int{flat}
	decIn := []int{4 * bc, 2 * bc, bc}
	decOut := []int{2 * bc, bc, 1}
	for i := range decoderConvs {
		layout[decoderConvs[i]+".weight"] = []int{decIn[i], decOut[i], 4, 4}
		layout[decoderConvs[i]+".bias"] = []int{decOut[i]}
		if i < len(decoderNorms) {
			addNorm(layout, decoderNorms[i], decOut[i])
		}
	}
	return layout
}

func addNorm(layout map[string][]int, name string, n int) {
	for _, p := range []string{".weight", ".bias", ".running_mean", ".running_var"} {
		layout[name+p] = []int{n}
	}
}

// NewWeights allocates zero weights for cfg with identity batch-norm
// statistics (unit gamma and variance).
func NewWeights(cfg Config) Weights {
	w := Weights{}
	for name, shape := range Layout(cfg) {
		t := NewTensor(shape...)
		if strings.HasSuffix(name, ".running_var") || (isNorm(name) && strings.HasSuffix(name, ".weight")) {
			t.Fill(1)
		}
		w[name] = t
	}
	return w
}

func isNorm(name string) bool {
	layer := name[:max(strings.LastIndexByte(name, '.'), 0)]
	return slices.Contains(encoderNorms, layer) || slices.Contains(decoderNorms, layer)
}

type stage struct {
	conv *conv2d
	norm *batchNorm
}

type upStage struct {
	conv *convTranspose2d
	norm *batchNorm // nil on the output stage
}

// Autoencoder is an immutable, loaded network. It is safe for concurrent
// use because Forward allocates all activations per call.
type Autoencoder struct {
	cfg     Config
	encoder []stage
	encFC   *linear
	decFC   *linear
	decoder []upStage

	latentMean   *mat.VecDense
	latentCovInv *mat.Dense
}

// FromWeights builds a network, checking every tensor against Layout.
// latent_mean and latent_cov_inv are optional but must come together.
func FromWeights(cfg Config, w Weights) (*Autoencoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for name, shape := range Layout(cfg) {
		t, ok := w[name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %s", name)
		}
		if !sameShape(t.Shape, shape) {
			return nil, fmt.Errorf("parameter %s has shape %v, want %v", name, t.Shape, shape)
		}
	}

	bc := cfg.BaseChannels
	ch, side := cfg.bottleneck()
	flat := ch * side * side
	ae := &Autoencoder{cfg: cfg}

	encIn := []int{1, bc, 2 * bc}
	for i := range encoderConvs {
		bias := w[encoderConvs[i]+".bias"].Data
		c := &conv2d{in: encIn[i], out: len(bias), weight: w[encoderConvs[i]+".weight"].Data, bias: bias}
		ae.encoder = append(ae.encoder, stage{conv: c, norm: normFrom(w, encoderNorms[i])})
	}
	ae.encFC = newLinear(flat, cfg.LatentDim, w[encoderFC+".weight"].Data, w[encoderFC+".bias"].Data)
	ae.decFC = newLinear(cfg.LatentDim, flat, w[decoderFC+".weight"].Data, w[decoderFC+".bias"].Data)

	decIn := []int{4 * bc, 2 * bc, bc}
	for i := range decoderConvs {
		bias := w[decoderConvs[i]+".bias"].Data
		st := upStage{conv: &convTranspose2d{in: decIn[i], out: len(bias), weight: w[decoderConvs[i]+".weight"].Data, bias: bias}}
		if i < len(decoderNorms) {
			st.norm = normFrom(w, decoderNorms[i])
		}
		ae.decoder = append(ae.decoder, st)
	}

	mean, hasMean := w[LatentMeanKey]
	cov, hasCov := w[LatentCovInvKey]
	switch {
	case hasMean && hasCov:
		l := cfg.LatentDim
		if len(mean.Data) != l || len(cov.Data) != l*l {
			return nil, fmt.Errorf("latent statistics sized %d and %d, want %d and %d", len(mean.Data), len(cov.Data), l, l*l)
		}
		ae.latentMean = mat.NewVecDense(l, append([]float64(nil), mean.Data...))
		ae.latentCovInv = mat.NewDense(l, l, append([]float64(nil), cov.Data...))
	case hasMean != hasCov:
		return nil, fmt.Errorf("%s and %s must be provided together", LatentMeanKey, LatentCovInvKey)
	}
	return ae, nil
}

func normFrom(w Weights, name string) *batchNorm {
	return newBatchNorm(w[name+".weight"].Data, w[name+".bias"].Data, w[name+".running_mean"].Data, w[name+".running_var"].Data)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Config returns the architecture.
func (ae *Autoencoder) Config() Config { return ae.cfg }

// HasLatentStats reports whether Mahalanobis scoring is available.
func (ae *Autoencoder) HasLatentStats() bool { return ae.latentMean != nil }

func (ae *Autoencoder) checkInput(x []float64) error {
	if want := ae.cfg.ImageSize * ae.cfg.ImageSize; len(x) != want {
		return fmt.Errorf("input has %d values, want %d (%dx%d)", len(x), want, ae.cfg.ImageSize, ae.cfg.ImageSize)
	}
	return nil
}

// Encode maps an ImageSize x ImageSize image to its latent vector.
func (ae *Autoencoder) Encode(x []float64) ([]float64, error) {
	if err := ae.checkInput(x); err != nil {
		return nil, err
	}
	f := &feature{c: 1, h: ae.cfg.ImageSize, w: ae.cfg.ImageSize, data: x}
	for _, s := range ae.encoder {
		f = s.conv.forward(f)
		s.norm.forward(f)
		relu(f.data)
	}
	return ae.encFC.forward(f.data), nil
}

// Decode maps a latent vector back to image space, values in (0,1).
func (ae *Autoencoder) Decode(z []float64) ([]float64, error) {
	if len(z) != ae.cfg.LatentDim {
		return nil, fmt.Errorf("latent has %d values, want %d", len(z), ae.cfg.LatentDim)
	}
	ch, side := ae.cfg.bottleneck()
	f := &feature{c: ch, h: side, w: side, data: ae.decFC.forward(z)}
	for _, s := range ae.decoder {
		f = s.conv.forward(f)
		if s.norm != nil {
			s.norm.forward(f)
			relu(f.data)
		}
	}
	sigmoid(f.data)
	return f.data, nil
}

// Forward runs the full network and returns the latent vector and the
// reconstruction.
func (ae *Autoencoder) Forward(x []float64) (z, recon []float64, err error) {
	z, err = ae.Encode(x)
	if err != nil {
		return nil, nil, err
	}
	recon, err = ae.Decode(z)
	if err != nil {
		return nil, nil, err
	}
	return z, recon, nil
}

// ReconstructionError is the mean squared difference between x and recon.
func ReconstructionError(x, recon []float64) float64 {
	var sum float64
	for i := range x {
		d := recon[i] - x[i]
		sum += d * d
	}
	return sum / float64(len(x))
}

// Latent distance metrics.
const (
	MetricMahalanobis = "mahalanobis"
	MetricEuclidean   = "euclidean"
)

// LatentDistance is the Mahalanobis distance of z from the training
// distribution when statistics were exported, else the Euclidean norm of z.
func (ae *Autoencoder) LatentDistance(z []float64) (float64, string) {
	v := mat.NewVecDense(len(z), append([]float64(nil), z...))
	if ae.latentMean == nil {
		return mat.Norm(v, 2), MetricEuclidean
	}
	v.SubVec(v, ae.latentMean)
	return math.Sqrt(mat.Inner(v, ae.latentCovInv, v)), MetricMahalanobis
}
