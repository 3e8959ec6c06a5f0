// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/tensor"
)

// Buffer is a 2-D float32 matrix with a host array and an optional
// accelerator mirror.
type Buffer = tensor.Buffer

// ShapeError reports incompatible operand dimensions. It unwraps to
// ErrShapeMismatch.
type ShapeError = tensor.ShapeError

// Error conditions reported by the engine.
var (
	ErrShapeMismatch       = tensor.ErrShapeMismatch
	ErrInvalidShape        = tensor.ErrInvalidShape
	ErrInvalidDistribution = tensor.ErrInvalidDistribution
	ErrUnsupportedBackend  = tensor.ErrUnsupportedBackend
	ErrMissingSessionState = tensor.ErrMissingSessionState
)

// New creates a zeroed rows×cols buffer.
func New(rows, cols int) *Buffer {
	return tensor.New(rows, cols)
}

// FromSlice creates a buffer over a copy of data, which must hold rows*cols
// column-major values.
func FromSlice(rows, cols int, data []float32) (*Buffer, error) {
	return tensor.FromSlice(rows, cols, data)
}

// FromDense creates a buffer whose columns are the rows of m, turning a
// dataset with one observation per row into one observation per column.
//
// Example:
//
//	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
//	b := tensor.FromDense(m) // 3×2, b.At(2, 1) == 6
func FromDense(m mat.Matrix) *Buffer {
	return tensor.FromDense(m)
}
