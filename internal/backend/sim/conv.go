package sim

import (
	"fmt"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/parallel"
)

// checkGeometry verifies that y is the forward output of x under w and conv.
func checkGeometry(x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc, y device.TensorDesc) error {
	want, err := device.OutputDesc(x, w, conv)
	if err != nil {
		return err
	}
	if want != y {
		return fmt.Errorf("sim: output descriptor %+v, geometry gives %+v: %w", y, want, device.ErrBadArgument)
	}
	return nil
}

// pick returns AlgoGemm unless its workspace exceeds the configured cap.
func (a *Accelerator) pick(w device.FilterDesc, y device.TensorDesc) device.Algo {
	if a.cfg.WorkspaceLimit > 0 && cpu.ColLen(w, y) > a.cfg.WorkspaceLimit {
		return device.AlgoDirect
	}
	return device.AlgoGemm
}

func (a *Accelerator) ForwardAlgorithm(x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc, y device.TensorDesc) (device.Algo, error) {
	if err := checkGeometry(x, w, conv, y); err != nil {
		return 0, err
	}
	return a.pick(w, y), nil
}

func (a *Accelerator) BackwardFilterAlgorithm(x, dy device.TensorDesc, conv device.ConvDesc, dw device.FilterDesc) (device.Algo, error) {
	if err := checkGeometry(x, dw, conv, dy); err != nil {
		return 0, err
	}
	return a.pick(dw, dy), nil
}

func (a *Accelerator) BackwardDataAlgorithm(w device.FilterDesc, dy device.TensorDesc, conv device.ConvDesc, dx device.TensorDesc) (device.Algo, error) {
	if err := checkGeometry(dx, w, conv, dy); err != nil {
		return 0, err
	}
	return a.pick(w, dy), nil
}

func workspaceSize(w device.FilterDesc, y device.TensorDesc, algo device.Algo) (int, error) {
	switch algo {
	case device.AlgoDirect:
		return 0, nil
	case device.AlgoGemm:
		return cpu.ColLen(w, y), nil
	default:
		return 0, fmt.Errorf("sim: unknown algorithm %v: %w", algo, device.ErrBadArgument)
	}
}

func (a *Accelerator) ForwardWorkspaceSize(x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc, y device.TensorDesc, algo device.Algo) (int, error) {
	if err := checkGeometry(x, w, conv, y); err != nil {
		return 0, err
	}
	return workspaceSize(w, y, algo)
}

func (a *Accelerator) BackwardFilterWorkspaceSize(x, dy device.TensorDesc, conv device.ConvDesc, dw device.FilterDesc, algo device.Algo) (int, error) {
	if err := checkGeometry(x, dw, conv, dy); err != nil {
		return 0, err
	}
	return workspaceSize(dw, dy, algo)
}

func (a *Accelerator) BackwardDataWorkspaceSize(w device.FilterDesc, dy device.TensorDesc, conv device.ConvDesc, dx device.TensorDesc, algo device.Algo) (int, error) {
	if err := checkGeometry(dx, w, conv, dy); err != nil {
		return 0, err
	}
	return workspaceSize(w, dy, algo)
}

// operands resolves the tensor, filter and output memories of a convolution
// call and checks their lengths against the descriptors.
func (a *Accelerator) operands(xd device.TensorDesc, x device.Memory, wd device.FilterDesc, w device.Memory,
	yd device.TensorDesc, y device.Memory) (xs, ws, ys []float32, err error) {
	d, err := a.resolveAll(x, w, y)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(d[0]) != xd.Len() || len(d[1]) != wd.Len() || len(d[2]) != yd.Len() {
		return nil, nil, nil, fmt.Errorf("sim: conv operand lengths %d/%d/%d, descriptors need %d/%d/%d: %w",
			len(d[0]), len(d[1]), len(d[2]), xd.Len(), wd.Len(), yd.Len(), device.ErrBadArgument)
	}
	return d[0], d[1], d[2], nil
}

func (a *Accelerator) workspace(algo device.Algo, wd device.FilterDesc, yd device.TensorDesc, ws device.Memory) ([]float32, error) {
	need, err := workspaceSize(wd, yd, algo)
	if err != nil || need == 0 {
		return nil, err
	}
	if ws == nil {
		return nil, fmt.Errorf("sim: %v needs a workspace of %d: %w", algo, need, device.ErrBadArgument)
	}
	d, err := a.resolve(ws)
	if err != nil {
		return nil, err
	}
	if len(d) < need {
		return nil, fmt.Errorf("sim: workspace %d < %d: %w", len(d), need, device.ErrBadArgument)
	}
	return d, nil
}

// ConvolutionForward computes y = alpha*conv(x, w) + beta*y.
func (a *Accelerator) ConvolutionForward(alpha float32, xd device.TensorDesc, x device.Memory, wd device.FilterDesc, w device.Memory,
	conv device.ConvDesc, algo device.Algo, ws device.Memory, beta float32, yd device.TensorDesc, y device.Memory) error {
	if err := checkGeometry(xd, wd, conv, yd); err != nil {
		return err
	}
	xs, wts, ys, err := a.operands(xd, x, wd, w, yd, y)
	if err != nil {
		return err
	}
	col, err := a.workspace(algo, wd, yd, ws)
	if err != nil {
		return err
	}
	if algo == device.AlgoGemm {
		return a.exec.ConvForward(alpha, xd, xs, wd, wts, conv, col, beta, yd, ys)
	}
	a.forwardDirect(alpha, xd, xs, wd, wts, conv, beta, yd, ys)
	return nil
}

// ConvolutionBackwardFilter computes dw = alpha*∂/∂w + beta*dw.
func (a *Accelerator) ConvolutionBackwardFilter(alpha float32, xd device.TensorDesc, x device.Memory, dyd device.TensorDesc, dy device.Memory,
	conv device.ConvDesc, algo device.Algo, ws device.Memory, beta float32, dwd device.FilterDesc, dw device.Memory) error {
	if err := checkGeometry(xd, dwd, conv, dyd); err != nil {
		return err
	}
	xs, dws, dys, err := a.operands(xd, x, dwd, dw, dyd, dy)
	if err != nil {
		return err
	}
	col, err := a.workspace(algo, dwd, dyd, ws)
	if err != nil {
		return err
	}
	if algo == device.AlgoGemm {
		return a.exec.ConvBackwardFilter(alpha, xd, xs, dyd, dys, conv, col, true, beta, dwd, dws)
	}
	a.backwardFilterDirect(alpha, xd, xs, dyd, dys, conv, beta, dwd, dws)
	return nil
}

// ConvolutionBackwardData computes dx = alpha*∂/∂x + beta*dx.
func (a *Accelerator) ConvolutionBackwardData(alpha float32, wd device.FilterDesc, w device.Memory, dyd device.TensorDesc, dy device.Memory,
	conv device.ConvDesc, algo device.Algo, ws device.Memory, beta float32, dxd device.TensorDesc, dx device.Memory) error {
	if err := checkGeometry(dxd, wd, conv, dyd); err != nil {
		return err
	}
	dxs, wts, dys, err := a.operands(dxd, dx, wd, w, dyd, dy)
	if err != nil {
		return err
	}
	col, err := a.workspace(algo, wd, dyd, ws)
	if err != nil {
		return err
	}
	if algo == device.AlgoGemm {
		return a.exec.ConvBackwardData(alpha, wd, wts, dyd, dys, conv, col, beta, dxd, dxs)
	}
	a.backwardDataDirect(alpha, wd, wts, dyd, dys, conv, beta, dxd, dxs)
	return nil
}

// tap visits every (output pixel, filter tap) pair of image geometry that
// lands inside the unpadded input, passing the flat pixel offsets.
func tap(xd device.TensorDesc, wd device.FilterDesc, conv device.ConvDesc, yd device.TensorDesc,
	f func(outPix, inPix, fhfw int)) {
	for oh := 0; oh < yd.H; oh++ {
		for ow := 0; ow < yd.W; ow++ {
			for fh := 0; fh < wd.H; fh++ {
				ih := oh*conv.StrideH - conv.PadH + fh
				if ih < 0 || ih >= xd.H {
					continue
				}
				for fw := 0; fw < wd.W; fw++ {
					iw := ow*conv.StrideW - conv.PadW + fw
					if iw < 0 || iw >= xd.W {
						continue
					}
					f(oh*yd.W+ow, ih*xd.W+iw, fh*wd.W+fw)
				}
			}
		}
	}
}

func scaleInto(beta float32, y []float32) {
	switch beta {
	case 1:
	case 0:
		clear(y)
	default:
		for i := range y {
			y[i] *= beta
		}
	}
}

func (a *Accelerator) forwardDirect(alpha float32, xd device.TensorDesc, x []float32, wd device.FilterDesc, w []float32,
	conv device.ConvDesc, beta float32, yd device.TensorDesc, y []float32) {
	inLen, outLen := xd.H*xd.W*xd.C, yd.H*yd.W*yd.C
	parallel.ForEach(xd.N, func(n int) {
		img := x[n*inLen : (n+1)*inLen]
		out := y[n*outLen : (n+1)*outLen]
		acc := make([]float32, outLen)
		tap(xd, wd, conv, yd, func(outPix, inPix, fhfw int) {
			for c := 0; c < xd.C; c++ {
				v := img[inPix*xd.C+c]
				wcol := w[wd.K*(fhfw*wd.C+c):][:wd.K]
				dst := acc[outPix*wd.K:][:wd.K]
				for k, wv := range wcol {
					dst[k] += v * wv
				}
			}
		})
		scaleInto(beta, out)
		for i, v := range acc {
			out[i] += alpha * v
		}
	}, a.cfg.Parallel)
}

func (a *Accelerator) backwardFilterDirect(alpha float32, xd device.TensorDesc, x []float32, yd device.TensorDesc, dy []float32,
	conv device.ConvDesc, beta float32, wd device.FilterDesc, dw []float32) {
	inLen, outLen := xd.H*xd.W*xd.C, yd.H*yd.W*yd.C
	acc := make([]float32, wd.Len())
	// Each worker owns one filter k, i.e. row k of dw.
	parallel.ForEach(wd.K, func(k int) {
		for n := 0; n < xd.N; n++ {
			img := x[n*inLen : (n+1)*inLen]
			grad := dy[n*outLen : (n+1)*outLen]
			tap(xd, wd, conv, yd, func(outPix, inPix, fhfw int) {
				g := grad[outPix*wd.K+k]
				for c := 0; c < xd.C; c++ {
					acc[k+wd.K*(fhfw*wd.C+c)] += g * img[inPix*xd.C+c]
				}
			})
		}
	}, a.cfg.Parallel)
	scaleInto(beta, dw)
	for i, v := range acc {
		dw[i] += alpha * v
	}
}

func (a *Accelerator) backwardDataDirect(alpha float32, wd device.FilterDesc, w []float32, yd device.TensorDesc, dy []float32,
	conv device.ConvDesc, beta float32, xd device.TensorDesc, dx []float32) {
	inLen, outLen := xd.H*xd.W*xd.C, yd.H*yd.W*yd.C
	parallel.ForEach(xd.N, func(n int) {
		img := dx[n*inLen : (n+1)*inLen]
		grad := dy[n*outLen : (n+1)*outLen]
		acc := make([]float32, inLen)
		tap(xd, wd, conv, yd, func(outPix, inPix, fhfw int) {
			g := grad[outPix*wd.K:][:wd.K]
			for c := 0; c < xd.C; c++ {
				wcol := w[wd.K*(fhfw*wd.C+c):][:wd.K]
				var s float32
				for k, gv := range g {
					s += gv * wcol[k]
				}
				acc[inPix*xd.C+c] += s
			}
		})
		scaleInto(beta, img)
		for i, v := range acc {
			img[i] += alpha * v
		}
	}, a.cfg.Parallel)
}
