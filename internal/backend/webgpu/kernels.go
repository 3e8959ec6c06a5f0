//go:build windows

package webgpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/duet/internal/device"
)

func sameLen(op string, ms ...*memory) error {
	for _, m := range ms[1:] {
		if m.n != ms[0].n {
			return fmt.Errorf("webgpu: %s: lengths %d and %d differ: %w", op, ms[0].n, m.n, device.ErrBadArgument)
		}
	}
	return nil
}

func boolU32(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Gemm implements device.BLAS.
func (a *Accelerator) Gemm(tA, tB blas.Transpose, m, n, k int, alpha float32, am device.Memory, lda int,
	bm device.Memory, ldb int, beta float32, cm device.Memory, ldc int) error {
	d, err := a.resolveAll(am, bm, cm)
	if err != nil {
		return err
	}
	p := params(nil).u32(m).u32(n).u32(k).u32(lda).u32(ldb).u32(ldc).
		u32(boolU32(tA == blas.Trans)).u32(boolU32(tB == blas.Trans)).f32(alpha).f32(beta)
	return a.dispatch("gemm", gemmShader, m*n, p, d...)
}

// Gemv implements device.BLAS.
func (a *Accelerator) Gemv(tA blas.Transpose, m, n int, alpha float32, am device.Memory, lda int,
	xm device.Memory, beta float32, ym device.Memory) error {
	d, err := a.resolveAll(am, xm, ym)
	if err != nil {
		return err
	}
	out := m
	if tA == blas.Trans {
		out = n
	}
	p := params(nil).u32(m).u32(n).u32(lda).u32(boolU32(tA == blas.Trans)).f32(alpha).f32(beta)
	return a.dispatch("gemv", gemvShader, out, p, d...)
}

func (a *Accelerator) Fill(x device.Memory, v float32) error {
	d, err := a.resolve(x)
	if err != nil {
		return err
	}
	return a.dispatch("fill", fillShader, d.n, params(nil).u32(d.n).f32(v), d)
}

func (a *Accelerator) Copy(dst, src device.Memory) error {
	d, err := a.resolveAll(src, dst)
	if err != nil {
		return err
	}
	if err := sameLen("copy", d...); err != nil {
		return err
	}
	return a.dispatch("copy", copyShader, d[0].n, params(nil).u32(d[0].n), d...)
}

func (a *Accelerator) Exp(x device.Memory) error {
	d, err := a.resolve(x)
	if err != nil {
		return err
	}
	return a.dispatch("exp", expShader, d.n, params(nil).u32(d.n), d)
}

func (a *Accelerator) AddColumnwise(in, vec, out device.Memory, rows, cols int, alpha float32) error {
	d, err := a.resolveAll(in, vec, out)
	if err != nil {
		return err
	}
	if d[0].n != rows*cols || d[2].n != rows*cols || d[1].n != cols {
		return fmt.Errorf("webgpu: add columnwise %dx%d: %w", rows, cols, device.ErrBadArgument)
	}
	p := params(nil).u32(rows).u32(cols).f32(alpha)
	if d[0] == d[2] {
		return a.dispatch("add_columnwise_inplace", addColumnwiseInPlaceShader, rows*cols, p, d[0], d[1])
	}
	return a.dispatch("add_columnwise", addColumnwiseShader, rows*cols, p, d...)
}

func (a *Accelerator) DivideColumnwise(x, vec device.Memory, rows, cols int) error {
	d, err := a.resolveAll(x, vec)
	if err != nil {
		return err
	}
	if d[0].n != rows*cols || d[1].n != cols {
		return fmt.Errorf("webgpu: divide columnwise %dx%d: %w", rows, cols, device.ErrBadArgument)
	}
	return a.dispatch("divide_columnwise", divideColumnwiseShader, rows*cols, params(nil).u32(rows).u32(cols), d...)
}

func (a *Accelerator) MaxColumnwise(x, out device.Memory, rows, cols int) error {
	d, err := a.resolveAll(x, out)
	if err != nil {
		return err
	}
	if rows <= 0 || d[0].n != rows*cols || d[1].n != cols {
		return fmt.Errorf("webgpu: max columnwise %dx%d: %w", rows, cols, device.ErrBadArgument)
	}
	return a.dispatch("max_columnwise", maxColumnwiseShader, cols, params(nil).u32(rows).u32(cols), d...)
}

func (a *Accelerator) ReLU(out, in device.Memory) error {
	d, err := a.resolveAll(in, out)
	if err != nil {
		return err
	}
	if err := sameLen("relu", d...); err != nil {
		return err
	}
	return a.dispatch("relu", reluShader, d[0].n, params(nil).u32(d[0].n), d...)
}

func (a *Accelerator) ReLUBackward(values, gradIn, gradOut device.Memory) error {
	d, err := a.resolveAll(values, gradIn, gradOut)
	if err != nil {
		return err
	}
	if err := sameLen("relu backward", d...); err != nil {
		return err
	}
	return a.dispatch("relu_backward", reluBackwardShader, d[0].n, params(nil).u32(d[0].n), d...)
}

func (a *Accelerator) CrossEntropyLosses(pred, target, losses device.Memory, rows, cols int) error {
	d, err := a.resolveAll(pred, target, losses)
	if err != nil {
		return err
	}
	if d[0].n != rows*cols || d[1].n != rows*cols || d[2].n != cols {
		return fmt.Errorf("webgpu: cross-entropy %dx%d: %w", rows, cols, device.ErrBadArgument)
	}
	return a.dispatch("xent_losses", crossEntropyLossesShader, cols, params(nil).u32(rows).u32(cols), d...)
}

func (a *Accelerator) CrossEntropyGrad(grad, pred, target device.Memory) error {
	d, err := a.resolveAll(pred, target, grad)
	if err != nil {
		return err
	}
	if err := sameLen("cross-entropy grad", d...); err != nil {
		return err
	}
	return a.dispatch("xent_grad", crossEntropyGradShader, d[0].n, params(nil).u32(d[0].n), d...)
}

func (a *Accelerator) Axpy(alpha float32, x, y device.Memory) error {
	d, err := a.resolveAll(x, y)
	if err != nil {
		return err
	}
	if err := sameLen("axpy", d...); err != nil {
		return err
	}
	return a.dispatch("axpy", axpyShader, d[0].n, params(nil).u32(d[0].n).f32(alpha), d...)
}

func (a *Accelerator) Scale(alpha float32, x device.Memory) error {
	d, err := a.resolve(x)
	if err != nil {
		return err
	}
	return a.dispatch("scale", scaleShader, d.n, params(nil).u32(d.n).f32(alpha), d)
}

func (a *Accelerator) Mul(x, y, out device.Memory) error {
	d, err := a.resolveAll(x, y, out)
	if err != nil {
		return err
	}
	if err := sameLen("mul", d...); err != nil {
		return err
	}
	p := params(nil).u32(d[0].n)
	switch {
	case d[0] == d[2]:
		return a.dispatch("mul_inplace", mulInPlaceShader, d[0].n, p, d[0], d[1])
	case d[1] == d[2]:
		return a.dispatch("mul_inplace", mulInPlaceShader, d[0].n, p, d[1], d[0])
	}
	return a.dispatch("mul", mulShader, d[0].n, p, d...)
}

func (a *Accelerator) Mask(mask device.Memory, keep float32, seed uint64) error {
	d, err := a.resolve(mask)
	if err != nil {
		return err
	}
	if keep <= 0 || keep > 1 {
		return fmt.Errorf("webgpu: keep probability %g: %w", keep, device.ErrBadArgument)
	}
	p := params(nil).u32(d.n).f32(keep).u32(int(uint32(seed))).u32(int(seed >> 32))
	return a.dispatch("mask", maskShader, d.n, p, d)
}
