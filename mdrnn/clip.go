package mdrnn

import (
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/chewxy/hm"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// clipGradOp is an identity in the forward pass whose incoming gradient is
// clamped to [-bound, bound] during backpropagation. Gorgonia has no
// backward hooks, so the clamp is inserted into the forward graph at the
// exact tensors whose gradients must stay bounded: per-layer hidden
// outputs, the head pre-activations, and the attention context.
type clipGradOp struct {
	bound float32
}

func (op *clipGradOp) Arity() int { return 1 }

func (op *clipGradOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	return hm.NewFnType(a, a)
}

func (op *clipGradOp) InferShape(ds ...G.DimSizer) (tensor.Shape, error) {
	if len(ds) != 1 {
		return nil, errors.Errorf("clipGrad expects 1 input shape, got %d", len(ds))
	}
	return ds[0].(tensor.Shape), nil
}

func (op *clipGradOp) Do(vals ...G.Value) (G.Value, error) {
	if len(vals) != 1 {
		return nil, errors.Errorf("clipGrad expects 1 input, got %d", len(vals))
	}
	return vals[0], nil
}

func (op *clipGradOp) ReturnsPtr() bool     { return true }
func (op *clipGradOp) CallsExtern() bool    { return false }
func (op *clipGradOp) OverwritesInput() int { return -1 }

func (op *clipGradOp) WriteHash(h hash.Hash) { fmt.Fprintf(h, "clipGrad{%v}", op.bound) }

func (op *clipGradOp) Hashcode() uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}

func (op *clipGradOp) String() string { return fmt.Sprintf("clipGrad{%v}", op.bound) }

func (op *clipGradOp) DiffWRT(inputs int) []bool { return []bool{true} }

// SymDiff passes through clamp(grad) = -c + relu(grad+c) - relu(grad-c),
// which is grad on [-c, c] and saturates outside it.
func (op *clipGradOp) SymDiff(inputs G.Nodes, output, grad *G.Node) (G.Nodes, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("clipGrad expects 1 input, got %d", len(inputs))
	}
	c := G.NewConstant(op.bound)
	lo := G.NewConstant(-op.bound)

	upper, err := G.Add(grad, c)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if upper, err = G.Rectify(upper); err != nil {
		return nil, errors.WithStack(err)
	}
	lower, err := G.Sub(grad, c)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if lower, err = G.Rectify(lower); err != nil {
		return nil, errors.WithStack(err)
	}
	clamped, err := G.Sub(upper, lower)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if clamped, err = G.Add(clamped, lo); err != nil {
		return nil, errors.WithStack(err)
	}
	return G.Nodes{clamped}, nil
}

// clampGrad wires a clipGradOp onto x.
func (m *maebe) clampGrad(x *G.Node, bound float32) *G.Node {
	return m.do(func() (*G.Node, error) { return G.ApplyOp(&clipGradOp{bound: bound}, x) })
}
