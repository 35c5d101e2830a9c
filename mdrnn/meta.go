package mdrnn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Net is the trainable surface shared by both network variants.
type Net interface {
	Graph() *G.ExprGraph
	Model() G.Nodes
	BindTraining(in Inputs) error
	Cost() float32
	Conf() Config
}

// Train runs iters optimizer steps over one padded batch and returns the
// per-iteration cost. The whole parameter set is norm-clipped before
// every solver step; the per-tensor gradient clamps are already part of
// the graph.
func Train(n Net, in Inputs, iters int, learnRate float64, normClip float32) ([]float32, error) {
	m := G.NewTapeMachine(n.Graph(), G.BindDualValues(n.Model()...))
	defer m.Close()

	solver := G.NewAdamSolver(G.WithLearnRate(learnRate), G.WithBatchSize(float64(n.Conf().BatchSize)))
	model := G.NodesToValueGrads(n.Model())

	costs := make([]float32, 0, iters)
	for i := 0; i < iters; i++ {
		if err := n.BindTraining(in); err != nil {
			return costs, err
		}
		if err := m.RunAll(); err != nil {
			return costs, errors.Wrapf(err, "training iteration %d", i)
		}
		if err := clipNorm(n.Model(), normClip); err != nil {
			return costs, err
		}
		if err := solver.Step(model); err != nil {
			return costs, errors.Wrapf(err, "solver step %d", i)
		}
		m.Reset()
		costs = append(costs, n.Cost())
	}
	return costs, nil
}

// clipNorm rescales every parameter gradient so the global L2 norm stays
// within limit.
func clipNorm(params G.Nodes, limit float32) error {
	if limit <= 0 {
		return nil
	}
	var sumsq float32
	grads := make([][]float32, len(params))
	for i, p := range params {
		g, err := p.Grad()
		if err != nil {
			return errors.Wrapf(err, "no gradient for %v", p)
		}
		grads[i] = g.Data().([]float32)
		for _, v := range grads[i] {
			sumsq += v * v
		}
	}
	norm := math32.Sqrt(sumsq)
	if norm <= limit {
		return nil
	}
	scale := limit / norm
	for _, g := range grads {
		vecf32.Scale(g, scale)
	}
	return nil
}

func copyParams(dst, src G.Nodes) error {
	if len(dst) != len(src) {
		return errors.Errorf("parameter count mismatch: %d vs %d", len(dst), len(src))
	}
	for i := range dst {
		copy(dst[i].Value().Data().([]float32), src[i].Value().Data().([]float32))
	}
	return nil
}

// Stepper evaluates a trained unconditional network one time step at a
// time, for ancestral sampling. It is a forward-only one-step clone with
// its own VM, so the training graph is left untouched.
type Stepper struct {
	n  *Strokes
	m  G.VM
	in *tensor.Dense // (1, B, 3)
}

// NewStepper builds a one-step clone of src at the given batch size and
// copies the weights over.
func NewStepper(src *Strokes, batch int) (*Stepper, error) {
	conf := src.Config
	conf.Steps = 1
	conf.BatchSize = batch
	conf.FwdOnly = true

	clone := New(conf)
	if err := clone.Init(); err != nil {
		return nil, err
	}
	if err := copyParams(clone.params, src.params); err != nil {
		return nil, err
	}
	return &Stepper{
		n:  clone,
		m:  G.NewTapeMachine(clone.g),
		in: tensor.New(tensor.WithShape(1, batch, 3), tensor.Of(Float)),
	}, nil
}

// Conf returns the stepper's one-step configuration.
func (s *Stepper) Conf() Config { return s.n.Config }

// Step runs one forward evaluation. prev is the previous point per batch
// element, laid out [lift, dx, dy] per element; st is advanced in place.
// No gradients are involved.
func (s *Stepper) Step(prev []float32, st *State) (*Params, error) {
	if len(prev) != s.n.BatchSize*3 {
		return nil, errors.Errorf("prev has %d values, want %d", len(prev), s.n.BatchSize*3)
	}
	s.m.Reset()
	copy(s.in.Data().([]float32), prev)
	if err := s.n.LetInput(s.in); err != nil {
		return nil, err
	}
	if err := s.n.LetState(st); err != nil {
		return nil, err
	}
	if err := s.m.RunAll(); err != nil {
		return nil, errors.WithStack(err)
	}
	s.n.FinalState(st)
	return s.n.Params(), nil
}

// Close implements a closer, because a gorgonia VM is a resource.
func (s *Stepper) Close() error { return s.m.Close() }

// SynthStepper is the conditional counterpart of Stepper. The character
// sequences are bound once at construction; batch size, padded sentence
// length and generation state all follow from them.
type SynthStepper struct {
	n  *Synth
	m  G.VM
	in *tensor.Dense // (1, B, 3)
}

// NewSynthStepper builds a one-step clone of src for the given padded
// one-hot character sequences (B, U, NChar) and their (B, U) mask.
func NewSynthStepper(src *Synth, chars, charMask *tensor.Dense) (*SynthStepper, error) {
	if chars == nil || charMask == nil {
		return nil, errors.New("conditional generation needs character sequences and their mask")
	}
	cs := chars.Shape()
	if cs.Dims() != 3 {
		return nil, errors.Errorf("character tensor must be (B, U, NChar), got %v", cs)
	}
	if cs[2] != src.NChar {
		return nil, errors.Errorf("one-hot width %d, configured alphabet size %d", cs[2], src.NChar)
	}

	conf := src.Config
	conf.Steps = 1
	conf.BatchSize = cs[0]
	conf.SentenceLen = cs[1]
	conf.FwdOnly = true

	clone := NewSynth(conf)
	if err := clone.Init(); err != nil {
		return nil, err
	}
	if err := copyParams(clone.params, src.params); err != nil {
		return nil, err
	}
	if err := clone.LetChars(chars, charMask); err != nil {
		return nil, err
	}
	return &SynthStepper{
		n:  clone,
		m:  G.NewTapeMachine(clone.g),
		in: tensor.New(tensor.WithShape(1, cs[0], 3), tensor.Of(Float)),
	}, nil
}

// Conf returns the stepper's one-step configuration.
func (s *SynthStepper) Conf() Config { return s.n.Config }

// Step runs one forward evaluation, advancing both the recurrent state
// and the attention state in place.
func (s *SynthStepper) Step(prev []float32, st *State, at *AttnState) (*Params, error) {
	if len(prev) != s.n.BatchSize*3 {
		return nil, errors.Errorf("prev has %d values, want %d", len(prev), s.n.BatchSize*3)
	}
	s.m.Reset()
	copy(s.in.Data().([]float32), prev)
	if err := s.n.LetInput(s.in); err != nil {
		return nil, err
	}
	if err := s.n.LetState(st); err != nil {
		return nil, err
	}
	if err := s.n.LetAttn(at); err != nil {
		return nil, err
	}
	if err := s.m.RunAll(); err != nil {
		return nil, errors.WithStack(err)
	}
	s.n.FinalState(st)
	s.n.FinalAttn(at)
	return s.n.Params(), nil
}

// Close implements a closer, because a gorgonia VM is a resource.
func (s *SynthStepper) Close() error { return s.m.Close() }
