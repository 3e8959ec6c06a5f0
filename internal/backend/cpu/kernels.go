package cpu

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/duet/internal/parallel"
	"github.com/born-ml/duet/internal/tensor"
)

var errShape = tensor.ErrShapeMismatch

func sameLen(op string, xs ...[]float32) error {
	for _, x := range xs[1:] {
		if len(x) != len(xs[0]) {
			return fmt.Errorf("cpu: %s: operand lengths %d and %d differ: %w", op, len(xs[0]), len(x), errShape)
		}
	}
	return nil
}

// Exp replaces x with exp(x).
func (cpu *CPUBackend) Exp(x []float32) {
	parallel.ForRange(len(x), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			x[i] = float32(math.Exp(float64(x[i])))
		}
	}, cpu.par)
}

// AddColumnwise writes out[r,c] = in[r,c] + alpha*vec[c].
func (cpu *CPUBackend) AddColumnwise(in, vec, out []float32, rows, cols int, alpha float32) error {
	if len(in) != rows*cols || len(out) != rows*cols || len(vec) != cols {
		return fmt.Errorf("cpu: add columnwise %dx%d: %w", rows, cols, errShape)
	}
	parallel.ForRange(cols, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			s := alpha * vec[c]
			for r := c * rows; r < (c+1)*rows; r++ {
				out[r] = in[r] + s
			}
		}
	}, cpu.par)
	return nil
}

// DivideColumnwise writes x[r,c] /= vec[c].
func (cpu *CPUBackend) DivideColumnwise(x, vec []float32, rows, cols int) error {
	if len(x) != rows*cols || len(vec) != cols {
		return fmt.Errorf("cpu: divide columnwise %dx%d: %w", rows, cols, errShape)
	}
	parallel.ForRange(cols, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			d := vec[c]
			for r := c * rows; r < (c+1)*rows; r++ {
				x[r] /= d
			}
		}
	}, cpu.par)
	return nil
}

// MaxColumnwise writes out[c] = max_r x[r,c].
func (cpu *CPUBackend) MaxColumnwise(x, out []float32, rows, cols int) error {
	if rows <= 0 || len(x) != rows*cols || len(out) != cols {
		return fmt.Errorf("cpu: max columnwise %dx%d: %w", rows, cols, errShape)
	}
	parallel.ForRange(cols, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			col := x[c*rows : (c+1)*rows]
			peak := col[0]
			for _, v := range col[1:] {
				peak = max(peak, v)
			}
			out[c] = peak
		}
	}, cpu.par)
	return nil
}

// SoftmaxColumns writes the column-wise softmax of in into out. Each column is
// shifted by its maximum before exponentiation.
func (cpu *CPUBackend) SoftmaxColumns(in, out []float32, rows, cols int) error {
	if len(in) != rows*cols || len(out) != rows*cols {
		return fmt.Errorf("cpu: softmax %dx%d: %w", rows, cols, errShape)
	}
	parallel.ForRange(cols, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			src := in[c*rows : (c+1)*rows]
			dst := out[c*rows : (c+1)*rows]
			peak := float32(math.Inf(-1))
			for _, v := range src {
				peak = max(peak, v)
			}
			var sum float64
			for i, v := range src {
				e := math.Exp(float64(v - peak))
				dst[i] = float32(e)
				sum += e
			}
			inv := float32(1 / sum)
			for i := range dst {
				dst[i] *= inv
			}
		}
	}, cpu.par)
	return nil
}

// ReLU writes out = max(in, 0).
func (cpu *CPUBackend) ReLU(out, in []float32) error {
	if err := sameLen("relu", out, in); err != nil {
		return err
	}
	parallel.ForRange(len(in), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = max(in[i], 0)
		}
	}, cpu.par)
	return nil
}

// ReLUBackward writes gradOut = gradIn where values > 0, else 0.
func (cpu *CPUBackend) ReLUBackward(values, gradIn, gradOut []float32) error {
	if err := sameLen("relu backward", values, gradIn, gradOut); err != nil {
		return err
	}
	parallel.ForRange(len(values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if values[i] > 0 {
				gradOut[i] = gradIn[i]
			} else {
				gradOut[i] = 0
			}
		}
	}, cpu.par)
	return nil
}

// CrossEntropyLosses writes losses[c] = -ln(pred[r,c]) for the row r where
// target[r,c] == 1. Columns without a hot row contribute zero.
func (cpu *CPUBackend) CrossEntropyLosses(pred, target []float32, losses []float64, rows, cols int) error {
	if len(pred) != rows*cols || len(target) != rows*cols || len(losses) != cols {
		return fmt.Errorf("cpu: cross-entropy %dx%d: %w", rows, cols, errShape)
	}
	parallel.ForRange(cols, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			losses[c] = 0
			for r := c * rows; r < (c+1)*rows; r++ {
				if target[r] == 1 {
					losses[c] = -math.Log(float64(pred[r]))
					break
				}
			}
		}
	}, cpu.par)
	return nil
}

// CrossEntropyGrad writes grad = pred - target.
func (cpu *CPUBackend) CrossEntropyGrad(grad, pred, target []float32) error {
	if err := sameLen("cross-entropy grad", grad, pred, target); err != nil {
		return err
	}
	parallel.ForRange(len(grad), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			grad[i] = pred[i] - target[i]
		}
	}, cpu.par)
	return nil
}

// Axpy writes y += alpha*x.
func (cpu *CPUBackend) Axpy(alpha float32, x, y []float32) error {
	if err := sameLen("axpy", x, y); err != nil {
		return err
	}
	blas32.Implementation().Saxpy(len(x), alpha, x, 1, y, 1)
	return nil
}

// Scale writes x *= alpha.
func (cpu *CPUBackend) Scale(alpha float32, x []float32) {
	if len(x) == 0 {
		return
	}
	blas32.Implementation().Sscal(len(x), alpha, x, 1)
}

// Mul writes out = a * b elementwise.
func (cpu *CPUBackend) Mul(a, b, out []float32) error {
	if err := sameLen("mul", a, b, out); err != nil {
		return err
	}
	parallel.ForRange(len(a), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = a[i] * b[i]
		}
	}, cpu.par)
	return nil
}

// Mask writes mask[i] = 1/keep with probability keep, else 0. The same seed
// always yields the same mask.
func (cpu *CPUBackend) Mask(mask []float32, keep float32, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	scale := 1 / keep
	for i := range mask {
		if rng.Float32() < keep {
			mask[i] = scale
		} else {
			mask[i] = 0
		}
	}
}

// ColumnSums writes sums[c] = Σ_r x[r,c].
func (cpu *CPUBackend) ColumnSums(x []float32, rows, cols int, sums []float32) error {
	if len(x) != rows*cols || len(sums) != cols {
		return fmt.Errorf("cpu: column sums %dx%d: %w", rows, cols, errShape)
	}
	ones := make([]float32, rows)
	for i := range ones {
		ones[i] = 1
	}
	return cpu.Gemv(blas.Trans, rows, cols, 1, x, max(rows, 1), ones, 0, sums)
}
