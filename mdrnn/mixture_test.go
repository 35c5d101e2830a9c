package mdrnn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func vec(vals ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(vals)), tensor.WithBacking(vals))
}

func row(vals ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(1, len(vals)), tensor.WithBacking(vals))
}

// mixtureLogDensity evaluates the mixture log density at a single point
// with explicit parameters, through a throwaway batch-1 graph.
func mixtureLogDensity(t *testing.T, x1v, x2v float32, pi, muX, muY, sigmaX, sigmaY, rho []float32, eps float32) float32 {
	t.Helper()
	mix := len(pi)

	g := G.NewGraph()
	x1 := G.NewVector(g, Float, G.WithShape(1), G.WithName("x1"))
	x2 := G.NewVector(g, Float, G.WithShape(1), G.WithName("x2"))
	s := mixStep{
		pi:     G.NewMatrix(g, Float, G.WithShape(1, mix), G.WithName("pi")),
		muX:    G.NewMatrix(g, Float, G.WithShape(1, mix), G.WithName("muX")),
		muY:    G.NewMatrix(g, Float, G.WithShape(1, mix), G.WithName("muY")),
		sigmaX: G.NewMatrix(g, Float, G.WithShape(1, mix), G.WithName("sigmaX")),
		sigmaY: G.NewMatrix(g, Float, G.WithShape(1, mix), G.WithName("sigmaY")),
		rho:    G.NewMatrix(g, Float, G.WithShape(1, mix), G.WithName("rho")),
	}

	var m maebe
	ld := m.logMixtureDensity(x1, x2, s, eps)
	if m.err != nil {
		t.Fatalf("%+v", m.err)
	}
	var val G.Value
	G.Read(ld, &val)

	machine := G.NewTapeMachine(g)
	defer machine.Close()
	G.Let(x1, vec(x1v))
	G.Let(x2, vec(x2v))
	G.Let(s.pi, row(pi...))
	G.Let(s.muX, row(muX...))
	G.Let(s.muY, row(muY...))
	G.Let(s.sigmaX, row(sigmaX...))
	G.Let(s.sigmaY, row(sigmaY...))
	G.Let(s.rho, row(rho...))
	if err := machine.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}
	return scalarValue(val)
}

func TestLogMixtureDensityClosedForm(t *testing.T) {
	one := []float32{1}
	zero := []float32{0}

	// a single standard bivariate gaussian at its mode
	got := mixtureLogDensity(t, 0, 0, one, zero, zero, one, one, zero, 0)
	assert.InDelta(t, 1/(2*math.Pi), math.Exp(float64(got)), 1e-5)

	// one unit off along x
	got = mixtureLogDensity(t, 1, 0, one, zero, zero, one, one, zero, 0)
	assert.InDelta(t, math.Exp(-0.5)/(2*math.Pi), math.Exp(float64(got)), 1e-5)

	// correlation widens the normalizer by sqrt(1-rho^2)
	got = mixtureLogDensity(t, 0, 0, one, zero, zero, one, one, []float32{0.5}, 0)
	assert.InDelta(t, 1/(2*math.Pi*math.Sqrt(0.75)), math.Exp(float64(got)), 1e-5)
}

func TestLogMixtureDensityPermutation(t *testing.T) {
	a := mixtureLogDensity(t, 0.3, -0.2,
		[]float32{0.7, 0.3},
		[]float32{0, 1},
		[]float32{0, -1},
		[]float32{1, 2},
		[]float32{1, 0.5},
		[]float32{0, 0.4}, 1e-4)
	b := mixtureLogDensity(t, 0.3, -0.2,
		[]float32{0.3, 0.7},
		[]float32{1, 0},
		[]float32{-1, 0},
		[]float32{2, 1},
		[]float32{0.5, 1},
		[]float32{0.4, 0}, 1e-4)
	assert.InDelta(t, a, b, 1e-5, "component order must not change the density")
}

func TestPenLogLikelihood(t *testing.T) {
	eval := func(ev, liftv float32) float32 {
		g := G.NewGraph()
		e := G.NewVector(g, Float, G.WithShape(1), G.WithName("e"))
		lift := G.NewVector(g, Float, G.WithShape(1), G.WithName("lift"))

		var m maebe
		ll := m.penLogLikelihood(e, lift, 0)
		if m.err != nil {
			t.Fatalf("%+v", m.err)
		}
		var val G.Value
		G.Read(ll, &val)

		machine := G.NewTapeMachine(g)
		defer machine.Close()
		G.Let(e, vec(ev))
		G.Let(lift, vec(liftv))
		if err := machine.RunAll(); err != nil {
			t.Fatalf("%+v", err)
		}
		return scalarValue(val)
	}

	assert.InDelta(t, math.Log(0.3), float64(eval(0.3, 1)), 1e-5)
	assert.InDelta(t, math.Log(0.7), float64(eval(0.3, 0)), 1e-5)
}

func TestLogSumExp(t *testing.T) {
	g := G.NewGraph()
	x := G.NewMatrix(g, Float, G.WithShape(1, 3), G.WithName("x"))

	var m maebe
	lse := m.logSumExp(x)
	if m.err != nil {
		t.Fatalf("%+v", m.err)
	}
	var val G.Value
	G.Read(lse, &val)

	machine := G.NewTapeMachine(g)
	defer machine.Close()
	G.Let(x, row(1, 2, 3))
	if err := machine.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}

	want := math.Log(math.Exp(1) + math.Exp(2) + math.Exp(3))
	assert.InDelta(t, want, float64(scalarValue(val)), 1e-5)
}
