package mdrnn

import (
	"github.com/chewxy/math32"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var log2pi = math32.Log(2 * math32.Pi)

// mixHead projects the concatenated hidden state onto the mixture
// parameters. The affine map is partitioned by parameter group; together
// the groups are the single (D, 6m+1) projection of the output layer.
type mixHead struct {
	pi, muX, muY, sigmaX, sigmaY, rho, e affine
}

func (m *maebe) mixHead(g *G.ExprGraph, inSize, mixtures int, name string) mixHead {
	return mixHead{
		pi:     m.affine(g, inSize, mixtures, name+"_pi"),
		muX:    m.affine(g, inSize, mixtures, name+"_mux"),
		muY:    m.affine(g, inSize, mixtures, name+"_muy"),
		sigmaX: m.affine(g, inSize, mixtures, name+"_sigmax"),
		sigmaY: m.affine(g, inSize, mixtures, name+"_sigmay"),
		rho:    m.affine(g, inSize, mixtures, name+"_rho"),
		e:      m.affine(g, inSize, 1, name+"_e"),
	}
}

// mixStep is one time step's mixture parameters. All nodes are (B, m)
// except e, which is (B).
type mixStep struct {
	e, pi, muX, muY, sigmaX, sigmaY, rho *G.Node
}

// head applies the output transforms: softmax keeps pi on the simplex,
// exp keeps sigma positive, tanh keeps rho strictly inside (-1, 1),
// sigmoid keeps e strictly inside (0, 1). No clamping on the raw
// projections themselves, only on their gradient.
func (m *maebe) head(h mixHead, hidden *G.Node, clip float32, batch int) mixStep {
	raw := func(a affine) *G.Node { return m.clampGrad(m.linear(a, hidden), clip) }

	return mixStep{
		pi:     m.softmax(raw(h.pi), 1),
		muX:    raw(h.muX),
		muY:    raw(h.muY),
		sigmaX: m.exp(raw(h.sigmaX)),
		sigmaY: m.exp(raw(h.sigmaY)),
		rho:    m.tanh(raw(h.rho)),
		e:      m.reshape(m.sigmoid(raw(h.e)), tensor.Shape{batch}),
	}
}

// logSumExp reduces the mixture axis of a (rows, m) node with the usual
// max-shift, so components are exponentiated only inside the final
// reduction.
func (m *maebe) logSumExp(x *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	rows := x.Shape()[0]
	mx := m.max(x, 1)
	mxw := m.reshape(mx, tensor.Shape{rows, 1})
	shifted := m.bsub(x, mxw, nil, []byte{1})
	return m.add(mx, m.log(m.sum(m.exp(shifted), 1)))
}

// logMixtureDensity is the log probability density of the offsets (x1, x2),
// both vectors aligned with the rows of s, under the mixture of correlated
// bivariate gaussians. sigma is lifted by eps and rho shrunk by 1/(1+eps)
// so the density stays finite when the network drives sigma toward 0 or
// |rho| toward 1.
func (m *maebe) logMixtureDensity(x1, x2 *G.Node, s mixStep, eps float32) *G.Node {
	if m.err != nil {
		return nil
	}
	rows := x1.Shape()[0]

	sx := m.add(s.sigmaX, G.NewConstant(eps))
	sy := m.add(s.sigmaY, G.NewConstant(eps))
	rho := m.hdiv(s.rho, G.NewConstant(1+eps))

	x1w := m.reshape(x1, tensor.Shape{rows, 1})
	x2w := m.reshape(x2, tensor.Shape{rows, 1})
	xc1 := m.hdiv(m.bsub(x1w, s.muX, []byte{1}, nil), sx)
	xc2 := m.hdiv(m.bsub(x2w, s.muY, []byte{1}, nil), sy)

	cross := m.hprod(rho, m.hprod(xc1, xc2))
	z := m.sub(m.add(m.square(xc1), m.square(xc2)), m.hprod(G.NewConstant(float32(2)), cross))

	omr := m.sub(G.NewConstant(float32(1)), m.square(rho))
	quad := m.neg(m.hdiv(z, m.hprod(G.NewConstant(float32(2)), omr)))

	norm := m.add(m.log(sx), m.log(sy))
	norm = m.add(norm, m.hprod(G.NewConstant(float32(0.5)), m.log(omr)))
	norm = m.add(norm, G.NewConstant(log2pi))

	logN := m.add(m.sub(quad, norm), m.log(s.pi))
	return m.logSumExp(logN)
}

// penLogLikelihood is the log likelihood of the observed pen-lift bit
// under lift probability e: e when the bit is 1, 1-e when it is 0. The
// (p+eps)/(1+2eps) renormalization keeps the log finite at the extremes.
func (m *maebe) penLogLikelihood(e, lift *G.Node, eps float32) *G.Node {
	one := G.NewConstant(float32(1))
	p := m.add(m.hprod(e, lift), m.hprod(m.sub(one, e), m.sub(one, lift)))
	p = m.hdiv(m.add(p, G.NewConstant(eps)), G.NewConstant(1+2*eps))
	return m.log(p)
}
