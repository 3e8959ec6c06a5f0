// Package dataset loads labeled image sets into the observations-as-rows
// matrices consumed by training: one flattened image per feature row and a
// one-hot target row per observation.
package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrFormat is returned for malformed input files.
var ErrFormat = errors.New("dataset: malformed input")

// Set is a labeled image set. Images are flattened HWC, channel fastest,
// which is the layout convolution layers expect.
type Set struct {
	Features *mat.Dense // N × (Height*Width*Channels), values in [0, 1]
	Targets  *mat.Dense // N × Classes, one-hot

	Height, Width, Channels int
	Classes                 int
}

// Len returns the number of observations.
func (s *Set) Len() int {
	r, _ := s.Features.Dims()
	return r
}

// OneHot encodes labels as rows of a len(labels)×classes matrix.
func OneHot(labels []byte, classes int) (*mat.Dense, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("dataset: %d classes: %w", classes, ErrFormat)
	}
	out := mat.NewDense(len(labels), classes, nil)
	for i, l := range labels {
		if int(l) >= classes {
			return nil, fmt.Errorf("dataset: label %d at row %d exceeds %d classes: %w", l, i, classes, ErrFormat)
		}
		out.Set(i, int(l), 1)
	}
	return out, nil
}

// Labels returns the arg-max column of every row, the inverse of OneHot for
// targets and the predicted class for network outputs.
func Labels(m mat.Matrix) []int {
	r, c := m.Dims()
	out := make([]int, r)
	for i := range r {
		best := 0
		for j := 1; j < c; j++ {
			if m.At(i, j) > m.At(i, best) {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// Accuracy returns the fraction of rows whose predicted class matches the
// one-hot target.
func Accuracy(pred, targets mat.Matrix) float64 {
	p, t := Labels(pred), Labels(targets)
	if len(p) == 0 || len(p) != len(t) {
		return 0
	}
	var hit int
	for i := range p {
		if p[i] == t[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(p))
}
