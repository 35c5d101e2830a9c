package handwriting

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/mec-correcaotextual/handwriting-synthesis/mdrnn"
)

// PrepareBatch pads strokes to a common length and lays them out in the
// tensors the training graphs consume: the input sequence, which starts
// at the dummy zero point and otherwise trails the targets by one step,
// the per-channel next-point targets, and the validity mask flagging the
// real (non padding) steps.
func PrepareBatch(strokes []Stroke) (mdrnn.Inputs, error) {
	if len(strokes) == 0 {
		return mdrnn.Inputs{}, errors.New("empty batch")
	}
	batch := len(strokes)
	steps := 0
	for _, s := range strokes {
		if len(s) == 0 {
			return mdrnn.Inputs{}, errors.New("empty stroke in batch")
		}
		if len(s) > steps {
			steps = len(s)
		}
	}

	in := tensor.New(tensor.WithShape(steps, batch, 3), tensor.Of(mdrnn.Float))
	lift := tensor.New(tensor.WithShape(steps, batch), tensor.Of(mdrnn.Float))
	dx := tensor.New(tensor.WithShape(steps, batch), tensor.Of(mdrnn.Float))
	dy := tensor.New(tensor.WithShape(steps, batch), tensor.Of(mdrnn.Float))
	mask := tensor.New(tensor.WithShape(steps, batch), tensor.Of(mdrnn.Float))

	inData := in.Data().([]float32)
	liftR := MakeRows(lift.Data().([]float32), steps, batch)
	dxR := MakeRows(dx.Data().([]float32), steps, batch)
	dyR := MakeRows(dy.Data().([]float32), steps, batch)
	maskR := MakeRows(mask.Data().([]float32), steps, batch)
	defer func() {
		ReturnRows(liftR)
		ReturnRows(dxR)
		ReturnRows(dyR)
		ReturnRows(maskR)
	}()

	for b, s := range strokes {
		for t, pt := range s {
			liftR[t][b] = pt.Lift
			dxR[t][b] = pt.DX
			dyR[t][b] = pt.DY
			maskR[t][b] = 1

			// the point predicted at step t is the input of step t+1
			if t+1 < steps {
				at := ((t+1)*batch + b) * 3
				inData[at] = pt.Lift
				inData[at+1] = pt.DX
				inData[at+2] = pt.DY
			}
		}
	}

	return mdrnn.Inputs{In: in, Lift: lift, DX: dx, DY: dy, Mask: mask}, nil
}

// PrepareSynthBatch is PrepareBatch plus the padded one-hot character
// sequences for the conditional network.
func PrepareSynthBatch(strokes []Stroke, sentences []string, a *Alphabet, padTo int) (mdrnn.Inputs, error) {
	if len(sentences) != len(strokes) {
		return mdrnn.Inputs{}, errors.Errorf("%d sentences for %d strokes", len(sentences), len(strokes))
	}
	in, err := PrepareBatch(strokes)
	if err != nil {
		return mdrnn.Inputs{}, err
	}
	if in.Chars, in.CharMask, err = a.OneHot(sentences, padTo); err != nil {
		return mdrnn.Inputs{}, err
	}
	return in, nil
}

// Alphabet maps runes onto one-hot columns over a fixed character set.
// Runes outside the set share the final column, so Size is one wider
// than the set.
type Alphabet struct {
	index map[rune]int
	size  int
}

func NewAlphabet(chars string) *Alphabet {
	index := make(map[rune]int)
	for _, r := range chars {
		if _, ok := index[r]; !ok {
			index[r] = len(index)
		}
	}
	return &Alphabet{index: index, size: len(index) + 1}
}

// Size is the one-hot width, i.e. the NChar the network must be
// configured with.
func (a *Alphabet) Size() int { return a.size }

// OneHot encodes sentences into a padded (B, U, Size) tensor and its
// (B, U) character mask. U is padTo, or the longest sentence when padTo
// is 0; longer sentences are an error.
func (a *Alphabet) OneHot(sentences []string, padTo int) (chars, charMask *tensor.Dense, err error) {
	if len(sentences) == 0 {
		return nil, nil, errors.New("no sentences to encode")
	}
	encoded := make([][]rune, len(sentences))
	longest := 0
	for i, s := range sentences {
		encoded[i] = []rune(s)
		if len(encoded[i]) > longest {
			longest = len(encoded[i])
		}
	}
	if padTo == 0 {
		padTo = longest
	}
	if longest > padTo {
		return nil, nil, errors.Errorf("sentence of %d characters exceeds padded length %d", longest, padTo)
	}

	batch := len(sentences)
	chars = tensor.New(tensor.WithShape(batch, padTo, a.size), tensor.Of(mdrnn.Float))
	charMask = tensor.New(tensor.WithShape(batch, padTo), tensor.Of(mdrnn.Float))
	cData := chars.Data().([]float32)
	mData := charMask.Data().([]float32)

	for b, runes := range encoded {
		for u, r := range runes {
			col, ok := a.index[r]
			if !ok {
				col = a.size - 1
			}
			cData[(b*padTo+u)*a.size+col] = 1
			mData[b*padTo+u] = 1
		}
	}
	return chars, charMask, nil
}
