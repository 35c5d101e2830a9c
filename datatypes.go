package handwriting

import (
	"github.com/mec-correcaotextual/handwriting-synthesis/mdrnn"
)

// Config is the top level configuration: the network shape plus the
// training and generation knobs consumed around it.
type Config struct {
	Name   string
	NNConf mdrnn.Config

	LearnRate float64 // adam step size
	NormClip  float32 // global gradient norm bound applied every solver step
	// GenSteps is the fixed conditional generation horizon. Stopping is
	// not learned in this design, so the horizon is a constant rather
	// than something derived from the text length.
	GenSteps int
	Seed     int64
}

// DefaultConfig returns a config with the dimensions and training knobs
// the handwriting model was designed around, unrolled for the given
// training shape.
func DefaultConfig(name string, steps, batchSize int) Config {
	return Config{
		Name:      name,
		NNConf:    mdrnn.DefaultConf(steps, batchSize),
		LearnRate: 1e-3,
		NormClip:  5,
		GenSteps:  600,
		Seed:      42,
	}
}

func (c Config) IsValid() bool {
	return c.NNConf.IsValid() &&
		c.LearnRate > 0 &&
		c.NormClip > 0 &&
		c.GenSteps >= 1
}

// Point is one pen sample. Lift set to 1 flags that the pen leaves the
// paper after this point; DX and DY are offsets from the previous point.
type Point struct {
	Lift float32
	DX   float32
	DY   float32
}

// Stroke is an ordered pen trajectory. The leading dummy zero point of
// the model's input convention is not stored; PrepareBatch adds it.
type Stroke []Point
