package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/parallel"
)

// ColLen returns the length of the patch matrix Im2Col builds for a batch:
// (FH*FW*C) rows by (OutH*OutW*N) columns.
func ColLen(w device.FilterDesc, y device.TensorDesc) int {
	return w.H * w.W * w.C * y.H * y.W * y.N
}

// Im2Col expands a batch of NHWC images into the patch matrix used by the
// GEMM convolution.
//
// Column (n*OutH*OutW + oh*OutW + ow) of col holds the receptive field of
// output pixel (oh, ow) of image n, ordered (fh, fw, c) with c fastest, which
// matches the HWIO column order of the filter matrix. Taps that fall into the
// padding are zero.
func (cpu *CPUBackend) Im2Col(x []float32, xd device.TensorDesc, wd device.FilterDesc,
	conv device.ConvDesc, yd device.TensorDesc, col []float32) error {
	if len(x) < xd.Len() || len(col) < ColLen(wd, yd) {
		return fmt.Errorf("cpu: im2col buffers too small (%d/%d, need %d/%d): %w",
			len(x), len(col), xd.Len(), ColLen(wd, yd), errShape)
	}
	patch := wd.H * wd.W * wd.C
	outHW := yd.H * yd.W
	imgLen := xd.H * xd.W * xd.C

	parallel.ForEach(xd.N, func(n int) {
		img := x[n*imgLen : (n+1)*imgLen]
		for oh := 0; oh < yd.H; oh++ {
			for ow := 0; ow < yd.W; ow++ {
				dst := col[(n*outHW+oh*yd.W+ow)*patch:][:patch]
				idx := 0
				for fh := 0; fh < wd.H; fh++ {
					ih := oh*conv.StrideH - conv.PadH + fh
					for fw := 0; fw < wd.W; fw++ {
						iw := ow*conv.StrideW - conv.PadW + fw
						if ih < 0 || ih >= xd.H || iw < 0 || iw >= xd.W {
							clear(dst[idx : idx+xd.C])
						} else {
							copy(dst[idx:idx+xd.C], img[(ih*xd.W+iw)*xd.C:])
						}
						idx += xd.C
					}
				}
			}
		}
	}, cpu.par)
	return nil
}

// Col2Im is the adjoint of Im2Col: it scatter-adds every patch column back into
// the image positions it was gathered from. dx is accumulated into, not
// overwritten; taps in the padding are dropped.
func (cpu *CPUBackend) Col2Im(col []float32, xd device.TensorDesc, wd device.FilterDesc,
	conv device.ConvDesc, yd device.TensorDesc, dx []float32) error {
	if len(dx) < xd.Len() || len(col) < ColLen(wd, yd) {
		return fmt.Errorf("cpu: col2im buffers too small (%d/%d, need %d/%d): %w",
			len(dx), len(col), xd.Len(), ColLen(wd, yd), errShape)
	}
	patch := wd.H * wd.W * wd.C
	outHW := yd.H * yd.W
	imgLen := xd.H * xd.W * xd.C

	// Images are disjoint columns of dx, so each goroutine owns its writes.
	parallel.ForEach(xd.N, func(n int) {
		img := dx[n*imgLen : (n+1)*imgLen]
		for oh := 0; oh < yd.H; oh++ {
			for ow := 0; ow < yd.W; ow++ {
				src := col[(n*outHW+oh*yd.W+ow)*patch:][:patch]
				idx := 0
				for fh := 0; fh < wd.H; fh++ {
					ih := oh*conv.StrideH - conv.PadH + fh
					for fw := 0; fw < wd.W; fw++ {
						iw := ow*conv.StrideW - conv.PadW + fw
						if ih >= 0 && ih < xd.H && iw >= 0 && iw < xd.W {
							dst := img[(ih*xd.W+iw)*xd.C:][:xd.C]
							for c, v := range src[idx : idx+xd.C] {
								dst[c] += v
							}
						}
						idx += xd.C
					}
				}
			}
		}
	}, cpu.par)
	return nil
}

// ConvForward computes y = alpha*conv(x, w) + beta*y by im2col into col and a
// single GEMM: Y(K × OutHW·N) = W(K × FH·FW·C) · col.
func (cpu *CPUBackend) ConvForward(alpha float32, xd device.TensorDesc, x []float32, wd device.FilterDesc, w []float32,
	conv device.ConvDesc, col []float32, beta float32, yd device.TensorDesc, y []float32) error {
	if err := cpu.Im2Col(x, xd, wd, conv, yd, col); err != nil {
		return err
	}
	patch := wd.H * wd.W * wd.C
	cols := yd.H * yd.W * yd.N
	return cpu.Gemm(blas.NoTrans, blas.NoTrans, wd.K, cols, patch,
		alpha, w, wd.K, col, patch, beta, y, wd.K)
}

// ConvBackwardFilter computes dw = alpha*dY·colᵀ + beta*dw. col must hold the
// patch matrix of x; when fresh is true it is rebuilt from x first.
func (cpu *CPUBackend) ConvBackwardFilter(alpha float32, xd device.TensorDesc, x []float32, yd device.TensorDesc, dy []float32,
	conv device.ConvDesc, col []float32, fresh bool, beta float32, wd device.FilterDesc, dw []float32) error {
	if fresh {
		if err := cpu.Im2Col(x, xd, wd, conv, yd, col); err != nil {
			return err
		}
	}
	patch := wd.H * wd.W * wd.C
	cols := yd.H * yd.W * yd.N
	return cpu.Gemm(blas.NoTrans, blas.Trans, wd.K, patch, cols,
		alpha, dy, wd.K, col, patch, beta, dw, wd.K)
}

// ConvBackwardData computes dx = alpha*col2im(Wᵀ·dY) + beta*dx, using col as
// scratch for the patch gradients.
func (cpu *CPUBackend) ConvBackwardData(alpha float32, wd device.FilterDesc, w []float32, yd device.TensorDesc, dy []float32,
	conv device.ConvDesc, col []float32, beta float32, xd device.TensorDesc, dx []float32) error {
	patch := wd.H * wd.W * wd.C
	cols := yd.H * yd.W * yd.N
	if len(col) < patch*cols {
		return fmt.Errorf("cpu: conv backward-data workspace %d < %d: %w", len(col), patch*cols, errShape)
	}
	if err := cpu.Gemm(blas.Trans, blas.NoTrans, patch, cols, wd.K,
		alpha, w, wd.K, dy, wd.K, 0, col, patch); err != nil {
		return err
	}
	switch beta {
	case 0:
		clear(dx[:xd.Len()])
	case 1:
	default:
		cpu.Scale(beta, dx[:xd.Len()])
	}
	return cpu.Col2Im(col, xd, wd, conv, yd, dx)
}
