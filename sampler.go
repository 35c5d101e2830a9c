package handwriting

import (
	"github.com/chewxy/math32"
	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"

	"github.com/mec-correcaotextual/handwriting-synthesis/mdrnn"
)

// Sampler draws the next pen point from one time step's mixture
// parameters. The draws are ordered: the pen-lift bit first, then the
// active mixture component, then the offset from that component's
// correlated bivariate gaussian. Batch elements are sampled
// independently.
type Sampler struct {
	uniform *rng.UniformGenerator
	gauss   *rng.GaussianGenerator
}

// NewSampler returns a Sampler whose draws are fully determined by seed.
func NewSampler(seed int64) *Sampler {
	return &Sampler{
		uniform: rng.NewUniformGenerator(seed),
		gauss:   rng.NewGaussianGenerator(seed + 1),
	}
}

// Next draws one (lift, dx, dy) point per batch element from the step-t
// parameters in p, writing into out, which must hold Batch*3 values.
func (s *Sampler) Next(p *mdrnn.Params, t int, out []float32) error {
	if len(out) != p.Batch*3 {
		return errors.Errorf("output buffer holds %d values, want %d", len(out), p.Batch*3)
	}
	for b := 0; b < p.Batch; b++ {
		e, pi, muX, muY, sigmaX, sigmaY, rho := p.At(t, b)

		var lift float32
		if s.uniform.Float32() < e {
			lift = 1
		}

		k := s.categorical(pi)

		// offset from the chosen component, covariance
		// [sx^2, r*sx*sy; r*sx*sy, sy^2] via its cholesky factor
		z1 := float32(s.gauss.Gaussian(0, 1))
		z2 := float32(s.gauss.Gaussian(0, 1))
		r := rho[k]
		dx := muX[k] + sigmaX[k]*z1
		dy := muY[k] + sigmaY[k]*(r*z1+math32.Sqrt(1-r*r)*z2)

		out[b*3] = lift
		out[b*3+1] = dx
		out[b*3+2] = dy
	}
	return nil
}

// categorical walks the CDF of the mixture weights. The weights come out
// of a softmax, so they sum to 1; the fallback on the last component
// only covers float rounding.
func (s *Sampler) categorical(pi []float32) int {
	u := s.uniform.Float32()
	var acc float32
	for i, w := range pi {
		acc += w
		if u < acc {
			return i
		}
	}
	return len(pi) - 1
}
