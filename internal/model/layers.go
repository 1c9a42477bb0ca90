package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const bnEps = 1e-5

// feature is a C x H x W activation volume.
type feature struct {
	c, h, w int
	data    []float64
}

func newFeature(c, h, w int) *feature {
	return &feature{c: c, h: h, w: w, data: make([]float64, c*h*w)}
}

// conv2d is Conv2d(kernel 4, stride 2, padding 1). Weight layout is
// (out, in, k, k).
type conv2d struct {
	in, out int
	weight  []float64
	bias    []float64
}

func (l *conv2d) forward(x *feature) *feature {
	const k, stride, pad = 4, 2, 1
	oh := (x.h+2*pad-k)/stride + 1
	ow := (x.w+2*pad-k)/stride + 1
	y := newFeature(l.out, oh, ow)
	for o := 0; o < l.out; o++ {
		plane := y.data[o*oh*ow : (o+1)*oh*ow]
		for i := range plane {
			plane[i] = l.bias[o]
		}
		for c := 0; c < l.in; c++ {
			src := x.data[c*x.h*x.w : (c+1)*x.h*x.w]
			kern := l.weight[(o*l.in+c)*k*k : (o*l.in+c+1)*k*k]
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var sum float64
					for ky := 0; ky < k; ky++ {
						iy := oy*stride - pad + ky
						if iy < 0 || iy >= x.h {
							continue
						}
						for kx := 0; kx < k; kx++ {
							ix := ox*stride - pad + kx
							if ix < 0 || ix >= x.w {
								continue
							}
							sum += kern[ky*k+kx] * src[iy*x.w+ix]
						}
					}
					plane[oy*ow+ox] += sum
				}
			}
		}
	}
	return y
}

// convTranspose2d is ConvTranspose2d(kernel 4, stride 2, padding 1).
// Weight layout is (in, out, k, k).
type convTranspose2d struct {
	in, out int
	weight  []float64
	bias    []float64
}

func (l *convTranspose2d) forward(x *feature) *feature {
	const k, stride, pad = 4, 2, 1
	oh := (x.h-1)*stride - 2*pad + k
	ow := (x.w-1)*stride - 2*pad + k
	y := newFeature(l.out, oh, ow)
	for o := 0; o < l.out; o++ {
		plane := y.data[o*oh*ow : (o+1)*oh*ow]
		for i := range plane {
			plane[i] = l.bias[o]
		}
	}
	for c := 0; c < l.in; c++ {
		src := x.data[c*x.h*x.w : (c+1)*x.h*x.w]
		for o := 0; o < l.out; o++ {
			plane := y.data[o*oh*ow : (o+1)*oh*ow]
			kern := l.weight[(c*l.out+o)*k*k : (c*l.out+o+1)*k*k]
			for iy := 0; iy < x.h; iy++ {
				for ix := 0; ix < x.w; ix++ {
					v := src[iy*x.w+ix]
					if v == 0 {
						continue
					}
					for ky := 0; ky < k; ky++ {
						oy := iy*stride - pad + ky
						if oy < 0 || oy >= oh {
							continue
						}
						for kx := 0; kx < k; kx++ {
							ox := ix*stride - pad + kx
							if ox < 0 || ox >= ow {
								continue
							}
							plane[oy*ow+ox] += v * kern[ky*k+kx]
						}
					}
				}
			}
		}
	}
	return y
}

// batchNorm applies inference-mode batch normalisation from running
// statistics, folded into one scale and shift per channel.
type batchNorm struct {
	scale []float64
	shift []float64
}

func newBatchNorm(gamma, beta, mean, variance []float64) *batchNorm {
	bn := &batchNorm{scale: make([]float64, len(gamma)), shift: make([]float64, len(gamma))}
	for i := range gamma {
		s := gamma[i] / math.Sqrt(variance[i]+bnEps)
		bn.scale[i] = s
		bn.shift[i] = beta[i] - mean[i]*s
	}
	return bn
}

func (bn *batchNorm) forward(x *feature) {
	n := x.h * x.w
	for c := 0; c < x.c; c++ {
		plane := x.data[c*n : (c+1)*n]
		s, b := bn.scale[c], bn.shift[c]
		for i, v := range plane {
			plane[i] = v*s + b
		}
	}
}

func relu(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func sigmoid(x []float64) {
	for i, v := range x {
		x[i] = 1 / (1 + math.Exp(-v))
	}
}

// linear computes W x + b with W stored (out, in).
type linear struct {
	weight *mat.Dense
	bias   *mat.VecDense
}

func newLinear(in, out int, weight, bias []float64) *linear {
	return &linear{
		weight: mat.NewDense(out, in, weight),
		bias:   mat.NewVecDense(out, bias),
	}
}

func (l *linear) forward(x []float64) []float64 {
	out, _ := l.weight.Dims()
	y := mat.NewVecDense(out, nil)
	y.MulVec(l.weight, mat.NewVecDense(len(x), x))
	y.AddVec(y, l.bias)
	return y.RawVector().Data
}
