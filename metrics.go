package handwriting

import (
	"encoding/csv"
	"os"
	"strconv"
)

// Metrics accumulates per-batch training losses, bucketed by epoch.
type Metrics struct {
	Losses [][]float32
}

func (m *Metrics) record(epoch int, loss float32) {
	for len(m.Losses) <= epoch {
		m.Losses = append(m.Losses, nil)
	}
	m.Losses[epoch] = append(m.Losses[epoch], loss)
}

// EpochMean is the average batch loss of one epoch.
func (m *Metrics) EpochMean(epoch int) float32 {
	if epoch >= len(m.Losses) || len(m.Losses[epoch]) == 0 {
		return 0
	}
	var sum float32
	for _, l := range m.Losses[epoch] {
		sum += l
	}
	return sum / float32(len(m.Losses[epoch]))
}

// Dump writes the recorded losses to filename as CSV rows of
// (epoch, batch, loss).
func (m *Metrics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for epoch, losses := range m.Losses {
		for batch, loss := range losses {
			record := []string{
				strconv.Itoa(epoch),
				strconv.Itoa(batch),
				strconv.FormatFloat(float64(loss), 'f', 6, 32),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}
