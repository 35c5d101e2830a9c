package handwriting

import (
	"fmt"
	"log"

	"gorgonia.org/tensor"

	"github.com/mec-correcaotextual/handwriting-synthesis/mdrnn"
)

// Synthesizer is the top level structure and the entry point of the API.
// It owns the network variants, trains them on prepared batches and
// generates stroke sequences from them. The networks are built lazily:
// the unconditional one on first unconditional use, the conditional one
// on first conditional use.
type Synthesizer struct {
	Config
	Metrics

	uncond *mdrnn.Strokes
	cond   *mdrnn.Synth
}

// New builds a Synthesizer for conf.
func New(conf Config) *Synthesizer {
	if !conf.IsValid() {
		panic(fmt.Sprintf("config is not valid: %+v", conf))
	}
	return &Synthesizer{Config: conf}
}

func (s *Synthesizer) ensureUncond() error {
	if s.uncond != nil {
		return nil
	}
	s.uncond = mdrnn.New(s.NNConf)
	if err := s.uncond.Init(); err != nil {
		s.uncond = nil
		return err
	}
	return nil
}

func (s *Synthesizer) ensureCond() error {
	if s.cond != nil {
		return nil
	}
	s.cond = mdrnn.NewSynth(s.NNConf)
	if err := s.cond.Init(); err != nil {
		s.cond = nil
		return err
	}
	return nil
}

// Learn trains the unconditional network for epochs passes over the
// prepared batches. Every batch must match the configured unroll shape.
func (s *Synthesizer) Learn(batches []mdrnn.Inputs, epochs int) error {
	if err := s.ensureUncond(); err != nil {
		return err
	}
	return s.learn(s.uncond, batches, epochs)
}

// LearnSynth trains the conditional network for epochs passes over the
// prepared batches, which must carry character sequences.
func (s *Synthesizer) LearnSynth(batches []mdrnn.Inputs, epochs int) error {
	if err := s.ensureCond(); err != nil {
		return err
	}
	return s.learn(s.cond, batches, epochs)
}

func (s *Synthesizer) learn(net mdrnn.Net, batches []mdrnn.Inputs, epochs int) error {
	for epoch := 0; epoch < epochs; epoch++ {
		for i, b := range batches {
			costs, err := mdrnn.Train(net, b, 1, s.LearnRate, s.NormClip)
			if err != nil {
				return err
			}
			s.record(epoch, costs[0])
			log.Printf("%s: epoch %d batch %d loss %.4f", s.Name, epoch, i, costs[0])
		}
		log.Printf("%s: epoch %d avg loss %.4f", s.Name, epoch, s.EpochMean(epoch))
	}
	return nil
}

// GenerateUnconditional samples steps points for batch sequences from
// the unconditional network. The result is (steps, batch, 3).
func (s *Synthesizer) GenerateUnconditional(steps, batch int) (*tensor.Dense, error) {
	if err := s.ensureUncond(); err != nil {
		return nil, err
	}
	return NewGenerator(s.Seed).Unconditional(s.uncond, steps, batch)
}

// GenerateConditional samples the configured GenSteps points aligned to
// the given padded one-hot character sequences. The result is
// (GenSteps, batch, 3).
func (s *Synthesizer) GenerateConditional(chars, charMask *tensor.Dense) (*tensor.Dense, error) {
	if err := s.ensureCond(); err != nil {
		return nil, err
	}
	return NewGenerator(s.Seed).Conditional(s.cond, chars, charMask, s.GenSteps)
}
