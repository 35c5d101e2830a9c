package mdrnn

import (
	"testing"

	"github.com/chewxy/math32"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func smallConf(steps, batch int) Config {
	conf := DefaultConf(steps, batch)
	conf.MemoryCells = 8
	conf.Layers = 2
	conf.Mixtures = 2
	conf.WindowMixtures = 2
	conf.NChar = 4
	conf.SentenceLen = 3
	return conf
}

// waveBatch fabricates a padded batch with a simple repeating pen
// pattern and an all-ones mask.
func waveBatch(steps, batch int) Inputs {
	in := tensor.New(tensor.WithShape(steps, batch, 3), tensor.Of(Float))
	lift := tensor.New(tensor.WithShape(steps, batch), tensor.Of(Float))
	dx := tensor.New(tensor.WithShape(steps, batch), tensor.Of(Float))
	dy := tensor.New(tensor.WithShape(steps, batch), tensor.Of(Float))
	mask := tensor.New(tensor.WithShape(steps, batch), tensor.Of(Float))

	inD := in.Data().([]float32)
	liftD := lift.Data().([]float32)
	dxD := dx.Data().([]float32)
	dyD := dy.Data().([]float32)
	maskD := mask.Data().([]float32)

	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			at := t*batch + b
			var l float32
			if t%4 == 3 {
				l = 1
			}
			liftD[at] = l
			dxD[at] = 0.5
			dyD[at] = math32.Sin(float32(t) * 0.5)
			maskD[at] = 1

			if t+1 < steps {
				inAt := ((t+1)*batch + b) * 3
				inD[inAt] = l
				inD[inAt+1] = dxD[at]
				inD[inAt+2] = dyD[at]
			}
		}
	}
	return Inputs{In: in, Lift: lift, DX: dx, DY: dy, Mask: mask}
}

func assertFinite(t *testing.T, vals []float32, what string) {
	t.Helper()
	for i, v := range vals {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			t.Fatalf("%s[%d] is not finite: %v", what, i, v)
		}
	}
}

func TestStrokesInit(t *testing.T) {
	n := New(smallConf(5, 2))
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	// 12 weights per recurrent layer, 14 in the output head
	if got, want := len(n.Model()), 2*12+14; got != want {
		t.Errorf("Expected %d learnable nodes, got %d", want, got)
	}

	bad := smallConf(5, 2)
	bad.MemoryCells = 0
	if err := New(bad).Init(); err == nil {
		t.Errorf("Expected Init to reject an invalid config")
	}
}

func TestStrokesLearnsWave(t *testing.T) {
	conf := smallConf(5, 2)
	conf.Layers = 1
	n := New(conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}

	costs, err := Train(n, waveBatch(5, 2), 25, 0.01, 5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assertFinite(t, costs, "cost")

	best := costs[0]
	for _, c := range costs[1:] {
		if c < best {
			best = c
		}
	}
	if best >= costs[0] {
		t.Errorf("Expected the loss to improve on %v, best was %v", costs[0], best)
	}
}

func TestTrainBatchOne(t *testing.T) {
	n := New(smallConf(4, 1))
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}

	// the loss graph must compile and run at batch size 1 too
	costs, err := Train(n, waveBatch(4, 1), 3, 0.01, 5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assertFinite(t, costs, "cost")
}

func TestMaskedStepsDoNotAffectCost(t *testing.T) {
	n := New(smallConf(4, 1))
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}

	batch := waveBatch(4, 1)
	batch.Mask.Data().([]float32)[3] = 0

	machine := G.NewTapeMachine(n.Graph())
	defer machine.Close()

	if err := n.BindTraining(batch); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := machine.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}
	cost1 := n.Cost()
	machine.Reset()

	// garbage targets at the masked step must contribute nothing
	batch.Lift.Data().([]float32)[3] = 1
	batch.DX.Data().([]float32)[3] = 999
	batch.DY.Data().([]float32)[3] = -999
	if err := n.BindTraining(batch); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := machine.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}

	if cost2 := n.Cost(); cost1 != cost2 {
		t.Errorf("Expected the masked step to be inert, cost went %v -> %v", cost1, cost2)
	}
}

func TestNewState(t *testing.T) {
	conf := smallConf(5, 2)
	st := NewState(conf)
	if len(st.H) != conf.Layers || len(st.C) != conf.Layers {
		t.Fatalf("Expected %d layers of state, got %d/%d", conf.Layers, len(st.H), len(st.C))
	}
	for l := 0; l < conf.Layers; l++ {
		want := tensor.Shape{conf.BatchSize, conf.MemoryCells}
		if !st.H[l].Shape().Eq(want) || !st.C[l].Shape().Eq(want) {
			t.Errorf("layer %d state shaped %v/%v, want %v", l, st.H[l].Shape(), st.C[l].Shape(), want)
		}
		for _, v := range st.H[l].Data().([]float32) {
			if v != 0 {
				t.Fatal("Expected fresh state to be zero")
			}
		}
	}
}
