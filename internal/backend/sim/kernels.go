package sim

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/duet/internal/device"
)

// Gemm implements device.BLAS.
func (a *Accelerator) Gemm(tA, tB blas.Transpose, m, n, k int, alpha float32, am device.Memory, lda int,
	bm device.Memory, ldb int, beta float32, cm device.Memory, ldc int) error {
	d, err := a.resolveAll(am, bm, cm)
	if err != nil {
		return err
	}
	return a.exec.Gemm(tA, tB, m, n, k, alpha, d[0], lda, d[1], ldb, beta, d[2], ldc)
}

// Gemv implements device.BLAS.
func (a *Accelerator) Gemv(tA blas.Transpose, m, n int, alpha float32, am device.Memory, lda int,
	xm device.Memory, beta float32, ym device.Memory) error {
	d, err := a.resolveAll(am, xm, ym)
	if err != nil {
		return err
	}
	return a.exec.Gemv(tA, m, n, alpha, d[0], lda, d[1], beta, d[2])
}

func (a *Accelerator) Fill(x device.Memory, v float32) error {
	d, err := a.resolve(x)
	if err != nil {
		return err
	}
	for i := range d {
		d[i] = v
	}
	return nil
}

func (a *Accelerator) Copy(dst, src device.Memory) error {
	d, err := a.resolveAll(dst, src)
	if err != nil {
		return err
	}
	if len(d[0]) != len(d[1]) {
		return fmt.Errorf("sim: copy %d values into %d: %w", len(d[1]), len(d[0]), device.ErrBadArgument)
	}
	copy(d[0], d[1])
	return nil
}

func (a *Accelerator) Exp(x device.Memory) error {
	d, err := a.resolve(x)
	if err != nil {
		return err
	}
	a.exec.Exp(d)
	return nil
}

func (a *Accelerator) AddColumnwise(in, vec, out device.Memory, rows, cols int, alpha float32) error {
	d, err := a.resolveAll(in, vec, out)
	if err != nil {
		return err
	}
	return a.exec.AddColumnwise(d[0], d[1], d[2], rows, cols, alpha)
}

func (a *Accelerator) DivideColumnwise(x, vec device.Memory, rows, cols int) error {
	d, err := a.resolveAll(x, vec)
	if err != nil {
		return err
	}
	return a.exec.DivideColumnwise(d[0], d[1], rows, cols)
}

func (a *Accelerator) MaxColumnwise(x, out device.Memory, rows, cols int) error {
	d, err := a.resolveAll(x, out)
	if err != nil {
		return err
	}
	return a.exec.MaxColumnwise(d[0], d[1], rows, cols)
}

func (a *Accelerator) ReLU(out, in device.Memory) error {
	d, err := a.resolveAll(out, in)
	if err != nil {
		return err
	}
	return a.exec.ReLU(d[0], d[1])
}

func (a *Accelerator) ReLUBackward(values, gradIn, gradOut device.Memory) error {
	d, err := a.resolveAll(values, gradIn, gradOut)
	if err != nil {
		return err
	}
	return a.exec.ReLUBackward(d[0], d[1], d[2])
}

// CrossEntropyLosses writes one float32 loss per column into losses.
func (a *Accelerator) CrossEntropyLosses(pred, target, losses device.Memory, rows, cols int) error {
	d, err := a.resolveAll(pred, target, losses)
	if err != nil {
		return err
	}
	if len(d[2]) != cols {
		return fmt.Errorf("sim: %d loss slots for %d columns: %w", len(d[2]), cols, device.ErrBadArgument)
	}
	tmp := make([]float64, cols)
	if err := a.exec.CrossEntropyLosses(d[0], d[1], tmp, rows, cols); err != nil {
		return err
	}
	for i, v := range tmp {
		d[2][i] = float32(v)
	}
	return nil
}

func (a *Accelerator) CrossEntropyGrad(grad, pred, target device.Memory) error {
	d, err := a.resolveAll(grad, pred, target)
	if err != nil {
		return err
	}
	return a.exec.CrossEntropyGrad(d[0], d[1], d[2])
}

func (a *Accelerator) Axpy(alpha float32, x, y device.Memory) error {
	d, err := a.resolveAll(x, y)
	if err != nil {
		return err
	}
	return a.exec.Axpy(alpha, d[0], d[1])
}

func (a *Accelerator) Scale(alpha float32, x device.Memory) error {
	d, err := a.resolve(x)
	if err != nil {
		return err
	}
	a.exec.Scale(alpha, d)
	return nil
}

func (a *Accelerator) Mul(x, y, out device.Memory) error {
	d, err := a.resolveAll(x, y, out)
	if err != nil {
		return err
	}
	return a.exec.Mul(d[0], d[1], d[2])
}

func (a *Accelerator) Mask(mask device.Memory, keep float32, seed uint64) error {
	d, err := a.resolve(mask)
	if err != nil {
		return err
	}
	if keep <= 0 || keep > 1 {
		return fmt.Errorf("sim: keep probability %g: %w", keep, device.ErrBadArgument)
	}
	a.exec.Mask(d, keep, seed)
	return nil
}
