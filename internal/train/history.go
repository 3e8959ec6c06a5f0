package train

import (
	"math"
	"time"
)

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch          int
	Iterations     int
	TrainLoss      float64 // Mean per observation over the epoch's batches
	ValidationLoss float64 // Mean per observation over the held-out rows
	Duration       time.Duration
	DataWait       time.Duration // Time the consumer spent blocked on the queue
	Compute        time.Duration
}

// History records a training run.
type History struct {
	Epochs    []EpochResult
	Best      float64 // Lowest validation loss seen
	BestEpoch int
	Stopped   bool // Early stopping ended the run
}

func newHistory() *History {
	return &History{Best: math.Inf(1), BestEpoch: -1}
}

// TrainLosses returns the mean training loss of every epoch.
func (h *History) TrainLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.TrainLoss
	}
	return out
}

// ValidationLosses returns the validation loss of every epoch.
func (h *History) ValidationLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.ValidationLoss
	}
	return out
}
