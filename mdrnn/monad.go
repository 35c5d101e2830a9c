package mdrnn

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

// maebe is the graph building monad. The first error poisons every
// subsequent call, so builders read straight through.
type maebe struct {
	err error

	// every learnable node, in creation order. Creation order is the
	// contract that lets weights be copied between a training graph and
	// its one-step inference clone.
	params G.Nodes
}

func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) weight(g *G.ExprGraph, rows, cols int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	w := G.NewMatrix(g, Float, G.WithShape(rows, cols), G.WithName(name), G.WithInit(G.GlorotU(1.0)))
	m.params = append(m.params, w)
	return w
}

func (m *maebe) bias(g *G.ExprGraph, cols int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	b := G.NewMatrix(g, Float, G.WithShape(1, cols), G.WithName(name), G.WithInit(G.Uniform(-0.01, 0.01)))
	m.params = append(m.params, b)
	return b
}

// affine is a named x·W+b with the bias broadcast over the batch axis.
type affine struct {
	w, b *G.Node
}

func (m *maebe) affine(g *G.ExprGraph, inSize, units int, name string) affine {
	return affine{
		w: m.weight(g, inSize, units, name+"_w"),
		b: m.bias(g, units, name+"_b"),
	}
}

func (m *maebe) linear(a affine, x *G.Node) *G.Node {
	xw := m.do(func() (*G.Node, error) { return G.Mul(x, a.w) })
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, a.b, nil, []byte{0}) })
}

// gate holds the weights of one LSTM gate: input-to-hidden,
// hidden-to-hidden and bias.
type gate struct {
	wx, wh, b *G.Node
}

func (m *maebe) gate(g *G.ExprGraph, inSize, hidden int, name string) gate {
	return gate{
		wx: m.weight(g, inSize, hidden, name+"_wx"),
		wh: m.weight(g, hidden, hidden, name+"_wh"),
		b:  m.bias(g, hidden, name+"_b"),
	}
}

func (m *maebe) preact(gt gate, x, h *G.Node) *G.Node {
	xw := m.do(func() (*G.Node, error) { return G.Mul(x, gt.wx) })
	hw := m.do(func() (*G.Node, error) { return G.Mul(h, gt.wh) })
	sum := m.do(func() (*G.Node, error) { return G.Add(xw, hw) })
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(sum, gt.b, nil, []byte{0}) })
}

// lstmCell is one recurrent layer, built from per-gate weight matrices.
type lstmCell struct {
	input, forget, output, cell gate
}

func (m *maebe) lstm(g *G.ExprGraph, inSize, hidden int, name string) lstmCell {
	return lstmCell{
		input:  m.gate(g, inSize, hidden, name+"_i"),
		forget: m.gate(g, inSize, hidden, name+"_f"),
		output: m.gate(g, inSize, hidden, name+"_o"),
		cell:   m.gate(g, inSize, hidden, name+"_g"),
	}
}

// lstmStep advances one layer by one time step. x is (B, inSize), hPrev
// and cPrev are (B, hidden).
func (m *maebe) lstmStep(l lstmCell, x, hPrev, cPrev *G.Node) (h, c *G.Node) {
	i := m.sigmoid(m.preact(l.input, x, hPrev))
	f := m.sigmoid(m.preact(l.forget, x, hPrev))
	o := m.sigmoid(m.preact(l.output, x, hPrev))
	cand := m.tanh(m.preact(l.cell, x, hPrev))

	fc := m.do(func() (*G.Node, error) { return G.HadamardProd(f, cPrev) })
	ic := m.do(func() (*G.Node, error) { return G.HadamardProd(i, cand) })
	c = m.do(func() (*G.Node, error) { return G.Add(fc, ic) })
	h = m.do(func() (*G.Node, error) { return G.HadamardProd(o, m.tanh(c)) })
	return h, c
}

func (m *maebe) sigmoid(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sigmoid(x) })
}

func (m *maebe) tanh(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Tanh(x) })
}

func (m *maebe) exp(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Exp(x) })
}

func (m *maebe) log(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Log(x) })
}

func (m *maebe) square(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Square(x) })
}

func (m *maebe) neg(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Neg(x) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) sub(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(a, b) })
}

func (m *maebe) hprod(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardProd(a, b) })
}

func (m *maebe) hdiv(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardDiv(a, b) })
}

func (m *maebe) softmax(x *G.Node, axis int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.SoftMax(x, axis) })
}

func (m *maebe) sum(x *G.Node, along ...int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sum(x, along...) })
}

func (m *maebe) max(x *G.Node, along ...int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Max(x, along...) })
}

func (m *maebe) concat(axis int, ns ...*G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Concat(axis, ns...) })
}

func (m *maebe) reshape(x *G.Node, to tensor.Shape) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Reshape(x, to) })
}

// timeStep slices axis 0 of a (T, ...) node.
func (m *maebe) timeStep(x *G.Node, t int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Slice(x, G.S(t)) })
}

func (m *maebe) bsub(a, b *G.Node, left, right []byte) *G.Node {
	return m.do(func() (*G.Node, error) { return G.BroadcastSub(a, b, left, right) })
}

func (m *maebe) bprod(a, b *G.Node, left, right []byte) *G.Node {
	return m.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(a, b, left, right) })
}

// stackSteps turns T per-step nodes of identical shape into one node with
// a leading time axis, preserving time order.
func (m *maebe) stackSteps(steps []*G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	widened := make([]*G.Node, len(steps))
	for i, s := range steps {
		shp := tensor.Shape{1}
		shp = append(shp, s.Shape()...)
		widened[i] = m.reshape(s, shp)
	}
	if len(widened) == 1 {
		return widened[0]
	}
	return m.concat(0, widened...)
}
