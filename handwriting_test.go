package handwriting

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"

	"github.com/mec-correcaotextual/handwriting-synthesis/mdrnn"
)

func TestDefaultConfig(t *testing.T) {
	if !DefaultConfig("test", 10, 4).IsValid() {
		t.Errorf("Expected the default config to be valid")
	}

	bad := DefaultConfig("test", 10, 4)
	bad.LearnRate = 0
	assert.False(t, bad.IsValid())

	bad = DefaultConfig("test", 10, 4)
	bad.GenSteps = 0
	assert.False(t, bad.IsValid())
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	conf := DefaultConfig("test", 10, 4)
	conf.NormClip = 0
	assert.Panics(t, func() { New(conf) })
}

// trainingStrokes fabricates a tiny repeating pen pattern.
func trainingStrokes(n, length int) []Stroke {
	strokes := make([]Stroke, n)
	for i := range strokes {
		stroke := make(Stroke, length)
		for t := range stroke {
			stroke[t] = Point{DX: 0.5, DY: math32.Sin(float32(t) * 0.5)}
			if t%4 == 3 {
				stroke[t].Lift = 1
			}
		}
		strokes[i] = stroke
	}
	return strokes
}

func TestSynthesizerLearn(t *testing.T) {
	s := New(smallConfig(4, 2))

	b, err := PrepareBatch(trainingStrokes(2, 4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Learn([]mdrnn.Inputs{b}, 2); err != nil {
		t.Fatalf("%+v", err)
	}

	assert.Len(t, s.Losses, 2)
	for epoch := range s.Losses {
		mean := s.EpochMean(epoch)
		assert.False(t, math32.IsNaN(mean) || math32.IsInf(mean, 0), "epoch %d mean loss %v", epoch, mean)
	}
}

func TestSynthesizerLearnSynth(t *testing.T) {
	a := NewAlphabet("abc")
	conf := smallConfig(4, 2)
	conf.NNConf.NChar = a.Size()
	s := New(conf)

	b, err := PrepareSynthBatch(trainingStrokes(2, 4), []string{"abc", "cba"}, a, conf.NNConf.SentenceLen)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.LearnSynth([]mdrnn.Inputs{b}, 1); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Len(t, s.Losses, 1)
}
