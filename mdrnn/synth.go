package mdrnn

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Synth is the conditional handwriting network. Layer 0 is the
// window-driving cell: besides the pen input it consumes the previous
// step's character context, and its hidden state parameterizes a mixture
// of gaussian attention heads whose position kappa only ever moves
// forward along the character sequence. Deeper layers get the raw pen
// input and the current context re-injected alongside the previous
// layer's output.
type Synth struct {
	Config

	g *G.ExprGraph

	// inputs
	in       *G.Node   // (T, B, 3)
	chars    *G.Node   // (B, U, NChar) one-hot, padded
	charMask *G.Node   // (B, U)
	h0s, c0s []*G.Node // per-layer prior state, each (B, MemoryCells)
	kappa0   *G.Node   // (B, WindowMixtures) prior window position
	window0  *G.Node   // (B, NChar) prior context
	loss     nllInputs // training only

	uRange *G.Node // constant 1..U, shaped (1, 1, U)

	params              G.Nodes
	wcell               lstmCell // the window-driving cell
	cells               []lstmCell
	alpha, beta, kappaW affine
	out                 mixHead

	// captured values
	outs                outValues
	hVals, cVals        []G.Value
	kappaVal, windowVal G.Value
	costVal             G.Value
}

// NewSynth returns a new, uninitialized *Synth.
func NewSynth(conf Config) *Synth {
	return &Synth{Config: conf}
}

func (n *Synth) Init() error {
	if !n.IsValidSynth() {
		return errors.Errorf("invalid config for conditional synthesis %+v", n.Config)
	}
	n.reset()
	n.g = G.NewGraph()

	var m maebe
	steps := n.fwd(&m)
	n.params = m.params
	n.bwd(&m, steps)
	return m.err
}

func (n *Synth) fwd(m *maebe) []mixStep {
	T, B, H, L := n.Steps, n.BatchSize, n.MemoryCells, n.Layers
	K, U, C := n.WindowMixtures, n.SentenceLen, n.NChar

	n.in = G.NewTensor(n.g, Float, 3, G.WithShape(T, B, 3), G.WithName("in"))
	n.chars = G.NewTensor(n.g, Float, 3, G.WithShape(B, U, C), G.WithName("chars"))
	n.charMask = G.NewMatrix(n.g, Float, G.WithShape(B, U), G.WithName("charmask"))
	n.kappa0 = G.NewMatrix(n.g, Float, G.WithShape(B, K), G.WithName("kappa0"))
	n.window0 = G.NewMatrix(n.g, Float, G.WithShape(B, C), G.WithName("window0"))
	n.h0s = make([]*G.Node, L)
	n.c0s = make([]*G.Node, L)
	for l := 0; l < L; l++ {
		n.h0s[l] = G.NewMatrix(n.g, Float, G.WithShape(B, H), G.WithName(fmt.Sprintf("h0_%d", l)))
		n.c0s[l] = G.NewMatrix(n.g, Float, G.WithShape(B, H), G.WithName(fmt.Sprintf("c0_%d", l)))
	}

	// character positions 1..U, broadcast target for (B, K, 1) kappa
	ub := make([]float32, U)
	for i := range ub {
		ub[i] = float32(i + 1)
	}
	n.uRange = G.NodeFromAny(n.g, tensor.New(tensor.WithShape(1, 1, U), tensor.WithBacking(ub)), G.WithName("useq"))

	n.wcell = m.lstm(n.g, 3+C, H, "window_cell")
	n.cells = make([]lstmCell, L-1)
	for l := range n.cells {
		n.cells[l] = m.lstm(n.g, H+3+C, H, fmt.Sprintf("lstm%d", l+1))
	}
	n.alpha = m.affine(n.g, H, K, "win_alpha")
	n.beta = m.affine(n.g, H, K, "win_beta")
	n.kappaW = m.affine(n.g, H, K, "win_kappa")
	n.out = m.mixHead(n.g, n.hiddenWidth(), n.Mixtures, "out")

	h := make([]*G.Node, L)
	c := make([]*G.Node, L)
	copy(h, n.h0s)
	copy(c, n.c0s)
	kappa := n.kappa0
	window := n.window0

	clamped := make([]*G.Node, L)
	steps := make([]mixStep, T)
	for t := 0; t < T; t++ {
		x := m.timeStep(n.in, t) // (B, 3)

		// window cell sees the pen input and the previous context
		hw, cw := m.lstmStep(n.wcell, m.concat(1, x, window), h[0], c[0])
		hw = m.clampGrad(hw, n.ClipHidden)
		h[0], c[0] = hw, cw
		clamped[0] = hw

		// window parameters; the exponential keeps all three positive,
		// which is what makes the kappa update monotone
		alpha := m.exp(m.linear(n.alpha, hw))  // (B, K)
		beta := m.exp(m.linear(n.beta, hw))    // (B, K)
		kinc := m.exp(m.linear(n.kappaW, hw))  // (B, K)
		kappa = m.add(kappa, kinc)

		// phi_u = sum_k alpha_k * exp(-beta_k * (kappa_k - u)^2)
		kap3 := m.reshape(kappa, tensor.Shape{B, K, 1})
		diff := m.bsub(kap3, n.uRange, []byte{2}, []byte{0, 1}) // (B, K, U)
		expo := m.bprod(m.reshape(m.neg(beta), tensor.Shape{B, K, 1}), m.square(diff), []byte{2}, nil)
		weighted := m.bprod(m.reshape(alpha, tensor.Shape{B, K, 1}), m.exp(expo), []byte{2}, nil)
		phi := m.hprod(m.sum(weighted, 1), n.charMask) // (B, U)

		// context = phi-weighted average of the one-hot characters
		ctx := m.sum(m.bprod(m.reshape(phi, tensor.Shape{B, U, 1}), n.chars, []byte{2}, nil), 1) // (B, C)
		window = m.clampGrad(ctx, n.ClipOutput)

		for l := 1; l < L; l++ {
			inp := m.concat(1, clamped[l-1], x, window)
			h[l], c[l] = m.lstmStep(n.cells[l-1], inp, h[l], c[l])
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
	G.Read(kappa, &n.kappaVal)
	G.Read(window, &n.windowVal)
	m.readOutputs(steps, &n.outs)
	return steps
}

func (n *Synth) bwd(m *maebe, steps []mixStep) {
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

func (n *Synth) reset() {
	n.g = nil
	n.in = nil
	n.chars = nil
	n.charMask = nil
	n.h0s = nil
	n.c0s = nil
	n.kappa0 = nil
	n.window0 = nil
	n.loss = nllInputs{}
	n.uRange = nil
	n.params = nil
	n.cells = nil
	n.outs = outValues{}
	n.hVals = nil
	n.cVals = nil
	n.kappaVal = nil
	n.windowVal = nil
	n.costVal = nil
}

func (n *Synth) Graph() *G.ExprGraph { return n.g }
func (n *Synth) Conf() Config        { return n.Config }

// Model returns the learnable nodes in creation order.
func (n *Synth) Model() G.Nodes { return n.params }

// Cost returns the loss captured by the latest training run.
func (n *Synth) Cost() float32 { return scalarValue(n.costVal) }

// Params copies out the mixture parameters of the latest forward pass.
func (n *Synth) Params() *Params { return n.outs.params(n.Steps, n.BatchSize, n.Mixtures) }

// LetInput binds the (T, B, 3) input sequence.
func (n *Synth) LetInput(in *tensor.Dense) error {
	if !in.Shape().Eq(n.in.Shape()) {
		return errors.Errorf("input shape %v, want %v", in.Shape(), n.in.Shape())
	}
	return G.Let(n.in, in)
}

// LetChars binds the padded one-hot character sequences and their mask.
// The one-hot width must match the configured alphabet size.
func (n *Synth) LetChars(chars, charMask *tensor.Dense) error {
	if chars == nil || charMask == nil {
		return errors.New("conditional network needs character sequences and their mask")
	}
	if !chars.Shape().Eq(n.chars.Shape()) {
		return errors.Errorf("character tensor shape %v, want %v", chars.Shape(), n.chars.Shape())
	}
	if !charMask.Shape().Eq(n.charMask.Shape()) {
		return errors.Errorf("character mask shape %v, want %v", charMask.Shape(), n.charMask.Shape())
	}
	if err := G.Let(n.chars, chars); err != nil {
		return errors.WithStack(err)
	}
	return G.Let(n.charMask, charMask)
}

// LetState binds the prior recurrent state.
func (n *Synth) LetState(st *State) error {
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

// LetAttn binds the prior attention state (kappa and context). Use
// NewAttnState for the fresh variant.
func (n *Synth) LetAttn(at *AttnState) error {
	if err := G.Let(n.kappa0, at.Kappa); err != nil {
		return errors.WithStack(err)
	}
	return G.Let(n.window0, at.Window)
}

// BindTraining binds one padded batch, fresh recurrent state and fresh
// attention state for a training run.
func (n *Synth) BindTraining(in Inputs) error {
	if n.FwdOnly {
		return errors.New("network was built FwdOnly")
	}
	if err := n.LetInput(in.In); err != nil {
		return err
	}
	if err := n.LetChars(in.Chars, in.CharMask); err != nil {
		return err
	}
	if err := n.LetState(NewState(n.Config)); err != nil {
		return err
	}
	if err := n.LetAttn(NewAttnState(n.Config)); err != nil {
		return err
	}
	return n.loss.let(in)
}

// FinalState copies the terminal recurrent state of the latest run.
func (n *Synth) FinalState(st *State) {
	st.fill(n.hVals, n.cVals)
}

// FinalAttn copies the terminal attention state of the latest run.
func (n *Synth) FinalAttn(at *AttnState) {
	copy(at.Kappa.Data().([]float32), n.kappaVal.Data().([]float32))
	copy(at.Window.Data().([]float32), n.windowVal.Data().([]float32))
}

// AttnState is the attention window's carried state: the cumulative
// position kappa (componentwise non-decreasing across steps) and the
// last produced context vector.
type AttnState struct {
	Kappa  *tensor.Dense // (B, WindowMixtures)
	Window *tensor.Dense // (B, NChar)
}

// NewAttnState returns the fresh, zero-initialized attention state.
func NewAttnState(conf Config) *AttnState {
	return &AttnState{
		Kappa:  tensor.New(tensor.WithShape(conf.BatchSize, conf.WindowMixtures), tensor.Of(Float)),
		Window: tensor.New(tensor.WithShape(conf.BatchSize, conf.NChar), tensor.Of(Float)),
	}
}
