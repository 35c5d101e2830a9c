package mdrnn

// Config configures the mixture-density recurrent networks.
type Config struct {
	MemoryCells    int // hidden width of each recurrent layer
	Layers         int // recurrent layer count
	Mixtures       int // bivariate gaussians in the output mixture
	WindowMixtures int // gaussians in the attention window (conditional only)
	NChar          int // one-hot alphabet width (conditional only)

	BatchSize   int // batch size the graph is unrolled for
	Steps       int // time steps the graph is unrolled for
	SentenceLen int // padded character-sequence length U (conditional only)

	Eps        float32 // numerical epsilon for the loss (see mixture.go)
	ClipHidden float32 // gradient clamp bound on per-layer hidden outputs
	ClipOutput float32 // gradient clamp bound on head pre-activations and the attention context

	FwdOnly bool // is this a fwd only graph?
}

// DefaultConf mirrors the dimensions the handwriting model was designed
// around: 400 cells x 3 layers, 20 output mixtures, 10 window mixtures
// over a 57 character alphabet.
func DefaultConf(steps, batchSize int) Config {
	return Config{
		MemoryCells:    400,
		Layers:         3,
		Mixtures:       20,
		WindowMixtures: 10,
		NChar:          57,

		BatchSize:   batchSize,
		Steps:       steps,
		SentenceLen: 64,

		Eps:        1e-4,
		ClipHidden: 10,
		ClipOutput: 100,
	}
}

func (conf Config) IsValid() bool {
	return conf.MemoryCells >= 1 &&
		conf.Layers >= 1 &&
		conf.Mixtures >= 1 &&
		conf.BatchSize >= 1 &&
		conf.Steps >= 1 &&
		conf.Eps >= 0 &&
		conf.ClipHidden > 0 &&
		conf.ClipOutput > 0
}

// IsValidSynth reports whether conf can also drive the conditional
// network.
func (conf Config) IsValidSynth() bool {
	return conf.IsValid() &&
		conf.WindowMixtures >= 1 &&
		conf.NChar >= 1 &&
		conf.SentenceLen >= 1
}

// hiddenWidth is the width of the concatenated per-layer hidden outputs
// that feed the mixture head.
func (conf Config) hiddenWidth() int { return conf.MemoryCells * conf.Layers }
