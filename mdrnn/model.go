package mdrnn

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Strokes is the unconditional handwriting network: a stack of recurrent
// layers with the raw pen input re-injected at every depth, feeding a
// mixture density head. The graph is unrolled over Config.Steps time
// steps at Config.BatchSize.
type Strokes struct {
	Config

	g *G.ExprGraph

	// inputs
	in       *G.Node   // (T, B, 3) [lift, dx, dy]
	h0s, c0s []*G.Node // per-layer prior state, each (B, MemoryCells)
	loss     nllInputs // training only

	params G.Nodes
	cells  []lstmCell
	out    mixHead

	// captured values
	outs         outValues
	hVals, cVals []G.Value
	costVal      G.Value
}

// New returns a new, uninitialized *Strokes.
func New(conf Config) *Strokes {
	return &Strokes{Config: conf}
}

func (n *Strokes) Init() error {
	if !n.IsValid() {
		return errors.Errorf("invalid config %+v", n.Config)
	}
	n.reset()
	n.g = G.NewGraph()

	var m maebe
	steps := n.fwd(&m)
	n.params = m.params
	n.bwd(&m, steps)
	return m.err
}

func (n *Strokes) fwd(m *maebe) []mixStep {
	T, B, H, L := n.Steps, n.BatchSize, n.MemoryCells, n.Layers

	n.in = G.NewTensor(n.g, Float, 3, G.WithShape(T, B, 3), G.WithName("in"))
	n.h0s = make([]*G.Node, L)
	n.c0s = make([]*G.Node, L)
	for l := 0; l < L; l++ {
		n.h0s[l] = G.NewMatrix(n.g, Float, G.WithShape(B, H), G.WithName(fmt.Sprintf("h0_%d", l)))
		n.c0s[l] = G.NewMatrix(n.g, Float, G.WithShape(B, H), G.WithName(fmt.Sprintf("c0_%d", l)))
	}

	n.cells = make([]lstmCell, L)
	for l := 0; l < L; l++ {
		inSize := 3
		if l > 0 {
			// skip connection: deeper layers see the raw pen input too
			inSize = H + 3
		}
		n.cells[l] = m.lstm(n.g, inSize, H, fmt.Sprintf("lstm%d", l))
	}
	n.out = m.mixHead(n.g, n.hiddenWidth(), n.Mixtures, "out")

	h := make([]*G.Node, L)
	c := make([]*G.Node, L)
	copy(h, n.h0s)
	copy(c, n.c0s)

	clamped := make([]*G.Node, L)
	steps := make([]mixStep, T)
	for t := 0; t < T; t++ {
		x := m.timeStep(n.in, t) // (B, 3)
		for l := 0; l < L; l++ {
			inp := x
			if l > 0 {
				inp = m.concat(1, clamped[l-1], x)
			}
			h[l], c[l] = m.lstmStep(n.cells[l], inp, h[l], c[l])
			clamped[l] = m.clampGrad(h[l], n.ClipHidden)
		}
		hidden := clamped[0]
		if L > 1 {
			hidden = m.concat(1, clamped...)
		}
		steps[t] = m.head(n.out, hidden, n.ClipOutput, B)
	}

	if m.err != nil {
		return steps
	}
	n.hVals = make([]G.Value, L)
	n.cVals = make([]G.Value, L)
	for l := 0; l < L; l++ {
		G.Read(h[l], &n.hVals[l])
		G.Read(c[l], &n.cVals[l])
	}
	m.readOutputs(steps, &n.outs)
	return steps
}

func (n *Strokes) bwd(m *maebe, steps []mixStep) {
	if n.FwdOnly || m.err != nil {
		return
	}
	n.loss = newNLLInputs(n.g, n.Steps, n.BatchSize)
	cost := m.nll(n.loss, steps, n.Eps)
	if m.err != nil {
		return
	}
	G.Read(cost, &n.costVal)
	if _, err := G.Grad(cost, n.params...); err != nil {
		m.err = errors.WithStack(err)
	}
}

func (n *Strokes) reset() {
	n.g = nil
	n.in = nil
	n.h0s = nil
	n.c0s = nil
	n.loss = nllInputs{}
	n.params = nil
	n.cells = nil
	n.outs = outValues{}
	n.hVals = nil
	n.cVals = nil
	n.costVal = nil
}

func (n *Strokes) Graph() *G.ExprGraph { return n.g }
func (n *Strokes) Conf() Config        { return n.Config }

// Model returns the learnable nodes in creation order.
func (n *Strokes) Model() G.Nodes { return n.params }

// Cost returns the loss captured by the latest training run.
func (n *Strokes) Cost() float32 { return scalarValue(n.costVal) }

// Params copies out the mixture parameters of the latest forward pass.
func (n *Strokes) Params() *Params { return n.outs.params(n.Steps, n.BatchSize, n.Mixtures) }

// LetInput binds the (T, B, 3) input sequence.
func (n *Strokes) LetInput(in *tensor.Dense) error {
	if !in.Shape().Eq(n.in.Shape()) {
		return errors.Errorf("input shape %v, want %v", in.Shape(), n.in.Shape())
	}
	return G.Let(n.in, in)
}

// LetState binds the prior recurrent state. Use NewState for the fresh
// (zero) variant; a continued state must match the layer count.
func (n *Strokes) LetState(st *State) error {
	if len(st.H) != len(n.h0s) || len(st.C) != len(n.c0s) {
		return errors.Errorf("state has %d layers, network has %d", len(st.H), len(n.h0s))
	}
	for l := range n.h0s {
		if err := G.Let(n.h0s[l], st.H[l]); err != nil {
			return errors.WithStack(err)
		}
		if err := G.Let(n.c0s[l], st.C[l]); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// BindTraining binds one padded batch and a fresh state for a training
// run.
func (n *Strokes) BindTraining(in Inputs) error {
	if n.FwdOnly {
		return errors.New("network was built FwdOnly")
	}
	if err := n.LetInput(in.In); err != nil {
		return err
	}
	if err := n.LetState(NewState(n.Config)); err != nil {
		return err
	}
	return n.loss.let(in)
}

// FinalState copies the terminal per-layer state of the latest run into
// st, so a caller can continue the recurrence.
func (n *Strokes) FinalState(st *State) {
	st.fill(n.hVals, n.cVals)
}

// State is the per-layer (hidden, cell) recurrent state. It is an
// explicit value: fresh state comes from NewState, never from a nil
// default.
type State struct {
	H, C []*tensor.Dense // each (B, MemoryCells)
}

// NewState returns the fresh, zero-initialized state for conf.
func NewState(conf Config) *State {
	st := &State{
		H: make([]*tensor.Dense, conf.Layers),
		C: make([]*tensor.Dense, conf.Layers),
	}
	for l := 0; l < conf.Layers; l++ {
		st.H[l] = tensor.New(tensor.WithShape(conf.BatchSize, conf.MemoryCells), tensor.Of(Float))
		st.C[l] = tensor.New(tensor.WithShape(conf.BatchSize, conf.MemoryCells), tensor.Of(Float))
	}
	return st
}

func (st *State) fill(hVals, cVals []G.Value) {
	for l := range st.H {
		copy(st.H[l].Data().([]float32), hVals[l].Data().([]float32))
		copy(st.C[l].Data().([]float32), cVals[l].Data().([]float32))
	}
}

func scalarValue(v G.Value) float32 {
	switch data := v.Data().(type) {
	case float32:
		return data
	case []float32:
		return data[0]
	}
	return 0
}
