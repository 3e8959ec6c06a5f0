package train

import "time"

// Window accumulates timing stats across the iterations of one epoch.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	loss    float64
}

// Record adds a new measurement to the window. loss is the summed loss of
// the batch.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.loss += loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps, Samples: w.samples, Data: w.data, Compute: w.compute}
	total := w.data + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	if w.samples > 0 {
		snap.MeanLoss = w.loss / float64(w.samples)
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps, Samples int
	Data, Compute  time.Duration
	SamplesPerSec  float64
	AvgDataMS      float64
	AvgComputeMS   float64
	MeanLoss       float64 // Mean training loss per observation
}
