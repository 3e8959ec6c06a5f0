// Package device defines the contract between the training engine and an
// accelerator: opaque device memory, a column-major BLAS subset, the
// elementwise kernels the layers need, and descriptor-driven convolutions.
//
// Implementations:
//   - sim: software accelerator with its own memory space (always available)
//   - webgpu: WGSL compute shaders through go-webgpu
//
// All matrices are column-major. A buffer with R rows and C columns stores
// element (r, c) at index r + c*R; one observation occupies one column.
package device

import (
	"errors"

	"gonum.org/v1/gonum/blas"
)

// Errors returned by accelerator implementations.
var (
	ErrForeignMemory = errors.New("device: memory belongs to a different accelerator")
	ErrReleased      = errors.New("device: memory already released")
	ErrUnavailable   = errors.New("device: accelerator not available")
	ErrBadArgument   = errors.New("device: invalid argument")
)

// Memory is an opaque handle to float32 storage resident on an accelerator.
type Memory interface {
	// Len returns the number of float32 elements.
	Len() int
	// Release frees the device storage. Calling Release twice is a no-op.
	Release()
}

// BLAS is the dense linear algebra subset used by the layers.
//
// Semantics follow the reference BLAS for column-major storage:
//
//	Gemm: C = alpha*op(A)*op(B) + beta*C   (op(A) is m×k, op(B) is k×n)
//	Gemv: y = alpha*op(A)*x + beta*y       (A is m×n)
type BLAS interface {
	Gemm(tA, tB blas.Transpose, m, n, k int, alpha float32, a Memory, lda int,
		b Memory, ldb int, beta float32, c Memory, ldc int) error
	Gemv(tA blas.Transpose, m, n int, alpha float32, a Memory, lda int,
		x Memory, beta float32, y Memory) error
}

// Kernels are the elementwise and reduction primitives. They are black boxes
// to the engine: only the input/output contract below matters.
type Kernels interface {
	// Fill sets every element of x to v.
	Fill(x Memory, v float32) error
	// Copy copies src into dst; both must have the same length.
	Copy(dst, src Memory) error
	// Exp replaces x with exp(x).
	Exp(x Memory) error
	// AddColumnwise writes out[r,c] = in[r,c] + alpha*vec[c].
	AddColumnwise(in, vec, out Memory, rows, cols int, alpha float32) error
	// DivideColumnwise writes x[r,c] /= vec[c].
	DivideColumnwise(x, vec Memory, rows, cols int) error
	// MaxColumnwise writes out[c] = max over r of x[r,c].
	MaxColumnwise(x, out Memory, rows, cols int) error
	// ReLU writes out = max(in, 0).
	ReLU(out, in Memory) error
	// ReLUBackward writes gradOut = gradIn where values > 0, else 0.
	ReLUBackward(values, gradIn, gradOut Memory) error
	// CrossEntropyLosses writes losses[c] = -ln(pred[r,c]) for the row r
	// where target[r,c] == 1.
	CrossEntropyLosses(pred, target, losses Memory, rows, cols int) error
	// CrossEntropyGrad writes grad = pred - target.
	CrossEntropyGrad(grad, pred, target Memory) error
	// Axpy writes y += alpha*x.
	Axpy(alpha float32, x, y Memory) error
	// Scale writes x *= alpha.
	Scale(alpha float32, x Memory) error
	// Mul writes out = a * b elementwise.
	Mul(a, b, out Memory) error
	// Mask writes mask[i] = 1/keep with probability keep, else 0.
	Mask(mask Memory, keep float32, seed uint64) error
}

// Accelerator is a complete device: memory management, BLAS, kernels and
// convolutions.
type Accelerator interface {
	BLAS
	Kernels
	Convolutions

	// Name returns a human-readable device description.
	Name() string
	// Alloc returns zero-filled device memory holding n float32 values.
	Alloc(n int) (Memory, error)
	// Upload copies host data into device memory of the same length.
	Upload(dst Memory, src []float32) error
	// Download copies device memory into a host slice of the same length.
	Download(dst []float32, src Memory) error
	// Synchronize blocks until all submitted work has completed.
	Synchronize() error
	// Release frees all device resources.
	Release()
}
