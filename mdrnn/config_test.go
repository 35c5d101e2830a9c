package mdrnn

import "testing"

func TestDefaultConf(t *testing.T) {
	conf := DefaultConf(100, 32)
	if !conf.IsValid() {
		t.Errorf("Expected default config to be valid, got %+v", conf)
	}
	if !conf.IsValidSynth() {
		t.Errorf("Expected default config to be valid for synthesis, got %+v", conf)
	}
	if conf.Steps != 100 || conf.BatchSize != 32 {
		t.Errorf("Expected unroll shape (100, 32), got (%d, %d)", conf.Steps, conf.BatchSize)
	}
}

var invalidConfs = []struct {
	name   string
	mutate func(*Config)
}{
	{"no cells", func(c *Config) { c.MemoryCells = 0 }},
	{"no layers", func(c *Config) { c.Layers = 0 }},
	{"no mixtures", func(c *Config) { c.Mixtures = 0 }},
	{"no batch", func(c *Config) { c.BatchSize = 0 }},
	{"no steps", func(c *Config) { c.Steps = 0 }},
	{"negative eps", func(c *Config) { c.Eps = -1 }},
	{"no hidden clip", func(c *Config) { c.ClipHidden = 0 }},
	{"no output clip", func(c *Config) { c.ClipOutput = 0 }},
}

func TestIsValid(t *testing.T) {
	for _, tt := range invalidConfs {
		conf := DefaultConf(10, 4)
		tt.mutate(&conf)
		if conf.IsValid() {
			t.Errorf("Expected config with %s to be invalid", tt.name)
		}
	}

	// zero eps is a legitimate choice, not an invalid one
	conf := DefaultConf(10, 4)
	conf.Eps = 0
	if !conf.IsValid() {
		t.Errorf("Expected zero eps to be valid")
	}
}

var invalidSynthConfs = []struct {
	name   string
	mutate func(*Config)
}{
	{"no window mixtures", func(c *Config) { c.WindowMixtures = 0 }},
	{"no alphabet", func(c *Config) { c.NChar = 0 }},
	{"no sentence length", func(c *Config) { c.SentenceLen = 0 }},
}

func TestIsValidSynth(t *testing.T) {
	for _, tt := range invalidSynthConfs {
		conf := DefaultConf(10, 4)
		tt.mutate(&conf)
		if conf.IsValidSynth() {
			t.Errorf("Expected config with %s to be invalid for synthesis", tt.name)
		}
		if !conf.IsValid() {
			t.Errorf("Expected config with %s to still be valid for the unconditional network", tt.name)
		}
	}
}
