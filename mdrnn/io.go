package mdrnn

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Inputs is one padded training batch in the shapes the graphs consume.
// Lift/DX/DY are the next-point targets, already shifted one step ahead
// of In. Chars and CharMask are only consulted by the conditional
// network.
type Inputs struct {
	In   *tensor.Dense // (T, B, 3)
	Lift *tensor.Dense // (T, B)
	DX   *tensor.Dense // (T, B)
	DY   *tensor.Dense // (T, B)
	Mask *tensor.Dense // (T, B) 1 = real step, 0 = padding

	Chars    *tensor.Dense // (B, U, NChar) one-hot, padded
	CharMask *tensor.Dense // (B, U)
}

// nllInputs are the target-side graph nodes of the loss.
type nllInputs struct {
	lift, dx, dy, mask *G.Node // each (T, B)
}

func newNLLInputs(g *G.ExprGraph, steps, batch int) nllInputs {
	return nllInputs{
		lift: G.NewMatrix(g, Float, G.WithShape(steps, batch), G.WithName("target_lift")),
		dx:   G.NewMatrix(g, Float, G.WithShape(steps, batch), G.WithName("target_dx")),
		dy:   G.NewMatrix(g, Float, G.WithShape(steps, batch), G.WithName("target_dy")),
		mask: G.NewMatrix(g, Float, G.WithShape(steps, batch), G.WithName("mask")),
	}
}

func (in nllInputs) let(b Inputs) error {
	for _, bind := range []struct {
		n *G.Node
		t *tensor.Dense
		f string
	}{
		{in.lift, b.Lift, "Lift"},
		{in.dx, b.DX, "DX"},
		{in.dy, b.DY, "DY"},
		{in.mask, b.Mask, "Mask"},
	} {
		if bind.t == nil {
			return errors.Errorf("training batch is missing %s", bind.f)
		}
		if !bind.t.Shape().Eq(bind.n.Shape()) {
			return errors.Errorf("%s shape %v, want %v", bind.f, bind.t.Shape(), bind.n.Shape())
		}
		if err := G.Let(bind.n, bind.t); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// nll builds the masked negative log likelihood over all unrolled steps.
// Steps and batch are flattened onto one row axis before any loss
// arithmetic, so every op keeps its tensor rank at batch size 1 too. A
// zero mask entry removes that step's contribution entirely; the average
// is over valid steps only.
func (m *maebe) nll(in nllInputs, steps []mixStep, eps float32) *G.Node {
	if m.err != nil {
		return nil
	}
	rows := in.lift.Shape()[0] * in.lift.Shape()[1]
	flat := func(x *G.Node) *G.Node { return m.reshape(x, tensor.Shape{rows}) }

	s := m.stackMixSteps(steps, rows)
	dens := m.logMixtureDensity(flat(in.dx), flat(in.dy), s, eps)
	pen := m.penLogLikelihood(s.e, flat(in.lift), eps)
	ll := m.add(dens, pen)

	total := m.sum(m.hprod(ll, flat(in.mask)))
	return m.neg(m.hdiv(total, m.sum(in.mask)))
}

// stackMixSteps concatenates T per-step parameter nodes and flattens the
// leading (T, B) axes onto one row axis: (rows, m) per parameter group, e
// as a (rows) vector.
func (m *maebe) stackMixSteps(steps []mixStep, rows int) mixStep {
	flat := func(f func(mixStep) *G.Node) *G.Node {
		per := make([]*G.Node, len(steps))
		for i, s := range steps {
			per[i] = f(s)
		}
		stacked := m.stackSteps(per)
		if m.err != nil {
			return nil
		}
		shp := tensor.Shape{rows}
		if stacked.Shape().Dims() == 3 {
			shp = tensor.Shape{rows, stacked.Shape()[2]}
		}
		return m.reshape(stacked, shp)
	}
	return mixStep{
		e:      flat(func(s mixStep) *G.Node { return s.e }),
		pi:     flat(func(s mixStep) *G.Node { return s.pi }),
		muX:    flat(func(s mixStep) *G.Node { return s.muX }),
		muY:    flat(func(s mixStep) *G.Node { return s.muY }),
		sigmaX: flat(func(s mixStep) *G.Node { return s.sigmaX }),
		sigmaY: flat(func(s mixStep) *G.Node { return s.sigmaY }),
		rho:    flat(func(s mixStep) *G.Node { return s.rho }),
	}
}

// outValues captures the stacked head outputs of a forward pass.
type outValues struct {
	e, pi, muX, muY, sigmaX, sigmaY, rho G.Value
}

func (m *maebe) readOutputs(steps []mixStep, into *outValues) {
	if m.err != nil {
		return
	}
	collect := func(f func(mixStep) *G.Node, v *G.Value) {
		per := make([]*G.Node, len(steps))
		for i, s := range steps {
			per[i] = f(s)
		}
		G.Read(m.stackSteps(per), v)
	}
	collect(func(s mixStep) *G.Node { return s.e }, &into.e)
	collect(func(s mixStep) *G.Node { return s.pi }, &into.pi)
	collect(func(s mixStep) *G.Node { return s.muX }, &into.muX)
	collect(func(s mixStep) *G.Node { return s.muY }, &into.muY)
	collect(func(s mixStep) *G.Node { return s.sigmaX }, &into.sigmaX)
	collect(func(s mixStep) *G.Node { return s.sigmaY }, &into.sigmaY)
	collect(func(s mixStep) *G.Node { return s.rho }, &into.rho)
}

// Params is a flattened copy of one forward pass's mixture parameters.
// E is laid out (Steps*Batch), the rest (Steps*Batch*Mixtures), time
// major.
type Params struct {
	Steps, Batch, Mixtures int

	E                                 []float32
	Pi, MuX, MuY, SigmaX, SigmaY, Rho []float32
}

func (v *outValues) params(steps, batch, mixtures int) *Params {
	cp := func(val G.Value) []float32 {
		src := val.Data().([]float32)
		dst := make([]float32, len(src))
		copy(dst, src)
		return dst
	}
	return &Params{
		Steps:    steps,
		Batch:    batch,
		Mixtures: mixtures,
		E:        cp(v.e),
		Pi:       cp(v.pi),
		MuX:      cp(v.muX),
		MuY:      cp(v.muY),
		SigmaX:   cp(v.sigmaX),
		SigmaY:   cp(v.sigmaY),
		Rho:      cp(v.rho),
	}
}

// At returns the (step, batch-element) view of the parameters: the e
// scalar and the per-mixture rows.
func (p *Params) At(t, b int) (e float32, pi, muX, muY, sigmaX, sigmaY, rho []float32) {
	flat := t*p.Batch + b
	lo, hi := flat*p.Mixtures, (flat+1)*p.Mixtures
	return p.E[flat],
		p.Pi[lo:hi],
		p.MuX[lo:hi],
		p.MuY[lo:hi],
		p.SigmaX[lo:hi],
		p.SigmaY[lo:hi],
		p.Rho[lo:hi]
}
