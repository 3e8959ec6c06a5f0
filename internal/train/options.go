// Package train holds the per-run state of the training pipeline: options,
// the session shared by the producer and consumer goroutines, the
// permutation sampler, mini-batches, timing windows and the run history.
package train

import (
	"fmt"

	"github.com/born-ml/duet/internal/tensor"
)

// DefaultWatermark is the queue depth below which the producer keeps
// preparing batches.
const DefaultWatermark = 5

// Options configures one training run.
type Options struct {
	// Epochs is the number of validations after which training stops.
	Epochs int

	// Patience stops training early after this many consecutive
	// validations without improvement. Zero disables early stopping.
	Patience int

	BatchSize int

	// IterationsPerEpoch is the validation threshold: an epoch ends once
	// more than this many updates ran since the previous validation.
	// Zero means one pass over the training rows.
	IterationsPerEpoch int

	// ValidationSplit is the fraction of rows held out for validation.
	// Zero validates on the training rows.
	ValidationSplit float64

	// Watermark is the produce-ahead depth of the batch queue.
	Watermark int

	// Seed drives the split and the sampler permutation. Zero picks a
	// random seed.
	Seed uint64
}

// DefaultOptions returns options for a short run.
func DefaultOptions() Options {
	return Options{
		Epochs:          10,
		BatchSize:       32,
		ValidationSplit: 0.2,
		Watermark:       DefaultWatermark,
	}
}

// Check validates the options on their own.
func (o Options) Check() error {
	switch {
	case o.Epochs <= 0:
		return fmt.Errorf("train: epochs must be > 0 (got %d)", o.Epochs)
	case o.BatchSize <= 0:
		return fmt.Errorf("train: batch size must be > 0 (got %d)", o.BatchSize)
	case o.Patience < 0:
		return fmt.Errorf("train: patience must be >= 0 (got %d)", o.Patience)
	case o.IterationsPerEpoch < 0:
		return fmt.Errorf("train: iterations per epoch must be >= 0 (got %d)", o.IterationsPerEpoch)
	case o.ValidationSplit < 0 || o.ValidationSplit >= 1:
		return fmt.Errorf("train: validation split must be in [0, 1) (got %g)", o.ValidationSplit)
	case o.Watermark < 0:
		return fmt.Errorf("train: watermark must be >= 0 (got %d)", o.Watermark)
	}
	return nil
}

// Validate checks the options against a dataset of rows observations.
func (o Options) Validate(rows int) error {
	if err := o.Check(); err != nil {
		return err
	}
	if train := rows - o.validationRows(rows); o.BatchSize > train {
		return fmt.Errorf("train: batch size %d exceeds %d training rows: %w", o.BatchSize, train, tensor.ErrInvalidShape)
	}
	return nil
}

func (o Options) validationRows(rows int) int {
	return int(o.ValidationSplit * float64(rows))
}

func (o Options) watermark() int {
	if o.Watermark == 0 {
		return DefaultWatermark
	}
	return o.Watermark
}
