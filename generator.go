package handwriting

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/mec-correcaotextual/handwriting-synthesis/mdrnn"
)

// Generator drives a one-step network and a Sampler across a fixed
// horizon, feeding every sampled point back as the next input. All
// recurrent (and, conditionally, attention) state is carried forward
// explicitly; no gradients are ever computed.
type Generator struct {
	sampler *Sampler
}

// NewGenerator returns a Generator seeded deterministically from seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{sampler: NewSampler(seed)}
}

// Unconditional samples steps points per batch element from net,
// starting from the dummy zero point and fresh state. The result is
// shaped (steps, batch, 3); the dummy point is not part of it.
func (g *Generator) Unconditional(net *mdrnn.Strokes, steps, batch int) (*tensor.Dense, error) {
	if steps < 1 || batch < 1 {
		return nil, errors.Errorf("cannot generate %d steps at batch %d", steps, batch)
	}
	stepper, err := mdrnn.NewStepper(net, batch)
	if err != nil {
		return nil, err
	}
	defer stepper.Close()

	state := mdrnn.NewState(stepper.Conf())
	return g.run(steps, batch, func(prev, out []float32) error {
		params, err := stepper.Step(prev, state)
		if err != nil {
			return err
		}
		return g.sampler.Next(params, 0, out)
	})
}

// Conditional samples steps points aligned to the given padded one-hot
// character sequences (B, U, NChar) and their (B, U) mask. The horizon
// is supplied by the caller (a configuration constant), not derived from
// the text length.
func (g *Generator) Conditional(net *mdrnn.Synth, chars, charMask *tensor.Dense, steps int) (*tensor.Dense, error) {
	if steps < 1 {
		return nil, errors.Errorf("cannot generate %d steps", steps)
	}
	stepper, err := mdrnn.NewSynthStepper(net, chars, charMask)
	if err != nil {
		return nil, err
	}
	defer stepper.Close()

	batch := stepper.Conf().BatchSize
	state := mdrnn.NewState(stepper.Conf())
	attn := mdrnn.NewAttnState(stepper.Conf())
	return g.run(steps, batch, func(prev, out []float32) error {
		params, err := stepper.Step(prev, state, attn)
		if err != nil {
			return err
		}
		return g.sampler.Next(params, 0, out)
	})
}

func (g *Generator) run(steps, batch int, step func(prev, out []float32) error) (*tensor.Dense, error) {
	out := tensor.New(tensor.WithShape(steps, batch, 3), tensor.Of(mdrnn.Float))
	data := out.Data().([]float32)

	prev := make([]float32, batch*3) // the dummy zero point
	for i := 0; i < steps; i++ {
		cur := data[i*batch*3 : (i+1)*batch*3]
		if err := step(prev, cur); err != nil {
			return nil, errors.Wrapf(err, "generation step %d", i)
		}
		prev = cur
	}
	return out, nil
}
