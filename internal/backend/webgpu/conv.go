//go:build windows

package webgpu

import (
	"fmt"

	"github.com/born-ml/duet/internal/device"
)

func checkGeometry(x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc, y device.TensorDesc) error {
	want, err := device.OutputDesc(x, w, conv)
	if err != nil {
		return err
	}
	if want != y {
		return fmt.Errorf("webgpu: output descriptor %+v, geometry gives %+v: %w", y, want, device.ErrBadArgument)
	}
	return nil
}

func checkAlgo(algo device.Algo) error {
	if algo != device.AlgoDirect {
		return fmt.Errorf("webgpu: algorithm %v not supported: %w", algo, device.ErrBadArgument)
	}
	return nil
}

func (a *Accelerator) ForwardAlgorithm(x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc, y device.TensorDesc) (device.Algo, error) {
	return device.AlgoDirect, checkGeometry(x, w, conv, y)
}

func (a *Accelerator) BackwardFilterAlgorithm(x, dy device.TensorDesc, conv device.ConvDesc, dw device.FilterDesc) (device.Algo, error) {
	return device.AlgoDirect, checkGeometry(x, dw, conv, dy)
}

func (a *Accelerator) BackwardDataAlgorithm(w device.FilterDesc, dy device.TensorDesc, conv device.ConvDesc, dx device.TensorDesc) (device.Algo, error) {
	return device.AlgoDirect, checkGeometry(dx, w, conv, dy)
}

func (a *Accelerator) ForwardWorkspaceSize(x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc, y device.TensorDesc, algo device.Algo) (int, error) {
	if err := checkGeometry(x, w, conv, y); err != nil {
		return 0, err
	}
	return 0, checkAlgo(algo)
}

func (a *Accelerator) BackwardFilterWorkspaceSize(x, dy device.TensorDesc, conv device.ConvDesc, dw device.FilterDesc, algo device.Algo) (int, error) {
	if err := checkGeometry(x, dw, conv, dy); err != nil {
		return 0, err
	}
	return 0, checkAlgo(algo)
}

func (a *Accelerator) BackwardDataWorkspaceSize(w device.FilterDesc, dy device.TensorDesc, conv device.ConvDesc, dx device.TensorDesc, algo device.Algo) (int, error) {
	if err := checkGeometry(dx, w, conv, dy); err != nil {
		return 0, err
	}
	return 0, checkAlgo(algo)
}

func convParamsFor(x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc, y device.TensorDesc, alpha, beta float32) params {
	return params(nil).u32(x.N).u32(x.C).u32(x.H).u32(x.W).
		u32(w.K).u32(w.H).u32(w.W).u32(y.H).u32(y.W).
		u32(conv.PadH).u32(conv.PadW).u32(conv.StrideH).u32(conv.StrideW).
		f32(alpha).f32(beta)
}

// convCall validates a convolution call and resolves its three operands in
// shader binding order.
func (a *Accelerator) convCall(algo device.Algo, x device.TensorDesc, w device.FilterDesc, conv device.ConvDesc,
	y device.TensorDesc, mems []device.Memory, lens []int) ([]*memory, error) {
	if err := checkAlgo(algo); err != nil {
		return nil, err
	}
	if err := checkGeometry(x, w, conv, y); err != nil {
		return nil, err
	}
	d, err := a.resolveAll(mems...)
	if err != nil {
		return nil, err
	}
	for i, m := range d {
		if m.n != lens[i] {
			return nil, fmt.Errorf("webgpu: conv operand %d has %d elements, descriptor needs %d: %w",
				i, m.n, lens[i], device.ErrBadArgument)
		}
	}
	return d, nil
}

// ConvolutionForward computes y = alpha*conv(x, w) + beta*y.
func (a *Accelerator) ConvolutionForward(alpha float32, xd device.TensorDesc, x device.Memory, wd device.FilterDesc, w device.Memory,
	conv device.ConvDesc, algo device.Algo, _ device.Memory, beta float32, yd device.TensorDesc, y device.Memory) error {
	d, err := a.convCall(algo, xd, wd, conv, yd, []device.Memory{x, w, y}, []int{xd.Len(), wd.Len(), yd.Len()})
	if err != nil {
		return err
	}
	return a.dispatch("conv_forward", convForwardShader, yd.Len(), convParamsFor(xd, wd, conv, yd, alpha, beta), d...)
}

// ConvolutionBackwardFilter computes dw = alpha*∂/∂w + beta*dw.
func (a *Accelerator) ConvolutionBackwardFilter(alpha float32, xd device.TensorDesc, x device.Memory, dyd device.TensorDesc, dy device.Memory,
	conv device.ConvDesc, algo device.Algo, _ device.Memory, beta float32, dwd device.FilterDesc, dw device.Memory) error {
	d, err := a.convCall(algo, xd, dwd, conv, dyd, []device.Memory{x, dy, dw}, []int{xd.Len(), dyd.Len(), dwd.Len()})
	if err != nil {
		return err
	}
	return a.dispatch("conv_backward_filter", convBackwardFilterShader, dwd.Len(), convParamsFor(xd, dwd, conv, dyd, alpha, beta), d...)
}

// ConvolutionBackwardData computes dx = alpha*∂/∂x + beta*dx.
func (a *Accelerator) ConvolutionBackwardData(alpha float32, wd device.FilterDesc, w device.Memory, dyd device.TensorDesc, dy device.Memory,
	conv device.ConvDesc, algo device.Algo, _ device.Memory, beta float32, dxd device.TensorDesc, dx device.Memory) error {
	d, err := a.convCall(algo, dxd, wd, conv, dyd, []device.Memory{w, dy, dx}, []int{wd.Len(), dyd.Len(), dxd.Len()})
	if err != nil {
		return err
	}
	return a.dispatch("conv_backward_data", convBackwardDataShader, dxd.Len(), convParamsFor(dxd, wd, conv, dyd, alpha, beta), d...)
}
