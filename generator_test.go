package handwriting

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func smallConfig(steps, batch int) Config {
	conf := DefaultConfig("test", steps, batch)
	conf.NNConf.MemoryCells = 8
	conf.NNConf.Layers = 2
	conf.NNConf.Mixtures = 2
	conf.NNConf.WindowMixtures = 2
	conf.NNConf.NChar = 4
	conf.NNConf.SentenceLen = 5
	conf.GenSteps = 20
	return conf
}

func TestGenerateUnconditional(t *testing.T) {
	s := New(smallConfig(8, 2))

	out, err := s.GenerateUnconditional(50, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(t, out.Shape().Eq(tensor.Shape{50, 2, 3}))

	data := out.Data().([]float32)
	for i, v := range data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			t.Fatalf("sample %d is not finite: %v", i, v)
		}
		if i%3 == 0 && v != 0 && v != 1 {
			t.Fatalf("lift at %d is not a bit: %v", i, v)
		}
	}
}

func TestGenerateConditionalDeterministic(t *testing.T) {
	a := NewAlphabet("abc")
	conf := smallConfig(8, 2)
	conf.NNConf.NChar = a.Size()
	s := New(conf)

	chars, charMask, err := a.OneHot([]string{"abcab"}, conf.NNConf.SentenceLen)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	out1, err := s.GenerateConditional(chars, charMask)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(t, out1.Shape().Eq(tensor.Shape{conf.GenSteps, 1, 3}))

	// same weights, same seed: generation is a pure function
	out2, err := s.GenerateConditional(chars, charMask)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(out1.Data().([]float32), out2.Data().([]float32)); diff != "" {
		t.Errorf("two runs with the same seed disagree:\n%s", diff)
	}
}

func TestGeneratorRejectsBadHorizon(t *testing.T) {
	s := New(smallConfig(8, 2))
	if err := s.ensureUncond(); err != nil {
		t.Fatalf("%+v", err)
	}

	g := NewGenerator(1)
	_, err := g.Unconditional(s.uncond, 0, 2)
	assert.Error(t, err)
	_, err = g.Unconditional(s.uncond, 10, 0)
	assert.Error(t, err)
}
