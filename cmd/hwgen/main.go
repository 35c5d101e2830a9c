package main

import (
	"encoding/csv"
	"flag"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	handwriting "github.com/mec-correcaotextual/handwriting-synthesis"
	"github.com/mec-correcaotextual/handwriting-synthesis/mdrnn"
)

func main() {
	var (
		uncond   = flag.Bool("uncond", false, "use the unconditional model")
		text     = flag.String("text", "hello world", "text to synthesize (conditional model)")
		steps    = flag.Int("steps", 300, "generation steps (unconditional model)")
		genSteps = flag.Int("gensteps", 600, "generation steps (conditional model)")
		batch    = flag.Int("batch", 1, "sequences to generate")
		cells    = flag.Int("cells", 64, "memory cells per recurrent layer")
		layers   = flag.Int("layers", 2, "recurrent layers")
		mixtures = flag.Int("mixtures", 10, "output mixture components")
		epochs   = flag.Int("epochs", 0, "warm-up epochs on synthetic strokes before generating")
		seed     = flag.Int64("seed", 42, "sampling seed")
		outFile  = flag.String("o", "", "output CSV file (default stdout)")
	)
	flag.Parse()

	alphabet := handwriting.NewAlphabet("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 .,;:'\"!?-()")

	const trainLen, trainBatch = 64, 4
	conf := handwriting.DefaultConfig("hwgen", trainLen, trainBatch)
	conf.NNConf.MemoryCells = *cells
	conf.NNConf.Layers = *layers
	conf.NNConf.Mixtures = *mixtures
	conf.NNConf.NChar = alphabet.Size()
	conf.NNConf.SentenceLen = len([]rune(*text))
	conf.GenSteps = *genSteps
	conf.Seed = *seed

	s := handwriting.New(conf)

	if *epochs > 0 {
		strokes := syntheticStrokes(trainBatch, trainLen)
		var (
			b   mdrnn.Inputs
			err error
		)
		if *uncond {
			b, err = handwriting.PrepareBatch(strokes)
		} else {
			sentences := make([]string, trainBatch)
			for i := range sentences {
				sentences[i] = *text
			}
			b, err = handwriting.PrepareSynthBatch(strokes, sentences, alphabet, conf.NNConf.SentenceLen)
		}
		if err != nil {
			log.Fatalf("preparing warm-up batch: %v", err)
		}
		learn := s.LearnSynth
		if *uncond {
			learn = s.Learn
		}
		if err := learn([]mdrnn.Inputs{b}, *epochs); err != nil {
			log.Fatalf("training: %+v", err)
		}
	}

	var (
		samples *tensor.Dense
		err     error
	)
	if *uncond {
		samples, err = s.GenerateUnconditional(*steps, *batch)
	} else {
		sentences := make([]string, *batch)
		for i := range sentences {
			sentences[i] = *text
		}
		chars, charMask, encErr := alphabet.OneHot(sentences, 0)
		if encErr != nil {
			log.Fatalf("encoding text: %v", encErr)
		}
		samples, err = s.GenerateConditional(chars, charMask)
	}
	if err != nil {
		log.Fatalf("generating: %+v", err)
	}

	w := io.Writer(os.Stdout)
	if *outFile != "" {
		f, err := os.OpenFile(*outFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("opening %s: %v", *outFile, err)
		}
		defer f.Close()
		w = f
	}
	if err := writeCSV(w, samples); err != nil {
		log.Fatalf("writing samples: %v", err)
	}
}

// syntheticStrokes fabricates wavy pen trajectories, enough signal for a
// short demo fit.
func syntheticStrokes(n, length int) []handwriting.Stroke {
	strokes := make([]handwriting.Stroke, n)
	for i := range strokes {
		stroke := make(handwriting.Stroke, length)
		for t := range stroke {
			phase := float32(t) * 0.3
			stroke[t] = handwriting.Point{
				DX: 0.5 + 0.1*float32(i),
				DY: math32.Sin(phase),
			}
			if t > 0 && t%16 == 0 {
				stroke[t].Lift = 1
			}
		}
		strokes[i] = stroke
	}
	return strokes
}

func writeCSV(w io.Writer, samples *tensor.Dense) error {
	shape := samples.Shape() // (steps, batch, 3)
	data := samples.Data().([]float32)
	steps, batch := shape[0], shape[1]

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"step", "seq", "lift", "dx", "dy"}); err != nil {
		return err
	}
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			at := (t*batch + b) * 3
			record := []string{
				strconv.Itoa(t),
				strconv.Itoa(b),
				strconv.FormatFloat(float64(data[at]), 'f', 0, 32),
				strconv.FormatFloat(float64(data[at+1]), 'f', 6, 32),
				strconv.FormatFloat(float64(data[at+2]), 'f', 6, 32),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
