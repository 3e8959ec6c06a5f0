package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// ConvSpec describes a 2-D convolution over NHWC images.
type ConvSpec struct {
	InH, InW, InC int // Input image height, width and channels
	Filters       int // Number of filters (output channels)
	FilterH       int
	FilterW       int
	Pad           int // Zero padding on every side
	Stride        int
}

// Convolution implements a 2-D cross-correlation layer without bias.
//
// Each input column is one image stored NHWC (channel fastest), H*W*C values.
// The weight matrix is Filters × (FilterH*FilterW*InC), column-major, i.e. HWIO
// filter layout. Each output column is an NHWC image of OutH*OutW*Filters
// values.
//
// The host path lowers the convolution to im2col + GEMM and its backward to
// GEMM + col2im. The accelerator path describes the operation with tensor,
// filter and convolution descriptors and lets the device pick an algorithm
// per direction; workspaces are sized from the device and rebuilt only when
// the batch size changes.
type Convolution struct {
	base
	spec       ConvSpec
	outH, outW int

	weight, dW *tensor.Buffer

	filter device.FilterDesc
	conv   device.ConvDesc
	xDesc  device.TensorDesc
	yDesc  device.TensorDesc

	col []float32 // host patch matrix

	fwdAlgo, bwdFilterAlgo, bwdDataAlgo device.Algo
	fwdWS, bwdFilterWS, bwdDataWS       device.Memory
	devBatch                            int
}

// NewConvolution creates a convolution layer. It fails with
// tensor.ErrInvalidShape when the output size is not an exact positive
// integer in either spatial dimension.
func NewConvolution(spec ConvSpec) (*Convolution, error) {
	if spec.InH <= 0 || spec.InW <= 0 || spec.InC <= 0 || spec.Filters <= 0 ||
		spec.FilterH <= 0 || spec.FilterW <= 0 || spec.Pad < 0 || spec.Stride <= 0 {
		return nil, fmt.Errorf("nn: convolution %+v: %w", spec, tensor.ErrInvalidShape)
	}
	outH, err := device.OutputSize(spec.InH, spec.FilterH, spec.Pad, spec.Stride)
	if err != nil {
		return nil, fmt.Errorf("nn: convolution height: %w: %w", tensor.ErrInvalidShape, err)
	}
	outW, err := device.OutputSize(spec.InW, spec.FilterW, spec.Pad, spec.Stride)
	if err != nil {
		return nil, fmt.Errorf("nn: convolution width: %w: %w", tensor.ErrInvalidShape, err)
	}

	patch := spec.FilterH * spec.FilterW * spec.InC
	l := &Convolution{
		spec:   spec,
		outH:   outH,
		outW:   outW,
		weight: tensor.New(spec.Filters, patch),
		dW:     tensor.New(spec.Filters, patch),
		filter: device.FilterDesc{K: spec.Filters, C: spec.InC, H: spec.FilterH, W: spec.FilterW},
		conv:   device.ConvDesc{PadH: spec.Pad, PadW: spec.Pad, StrideH: spec.Stride, StrideW: spec.Stride},
	}
	l.params = []*tensor.Buffer{l.weight}
	l.grads = []*tensor.Buffer{l.dW}
	l.initialize(newRand())
	return l, nil
}

func (l *Convolution) initialize(rng *rand.Rand) {
	Xavier(rng, l.weight.Cols(), l.weight.Rows(), l.weight)
}

// Kind returns KindConvolution.
func (l *Convolution) Kind() Kind { return KindConvolution }

// Weight returns the Filters × (FilterH*FilterW*InC) weight buffer.
func (l *Convolution) Weight() *tensor.Buffer { return l.weight }

// Spec returns the layer geometry.
func (l *Convolution) Spec() ConvSpec { return l.spec }

// OutputShape returns the output image height and width.
func (l *Convolution) OutputShape() (h, w int) { return l.outH, l.outW }

func (l *Convolution) inDim() int  { return l.spec.InH * l.spec.InW * l.spec.InC }
func (l *Convolution) outDim() int { return l.outH * l.outW * l.spec.Filters }

// OutputDim returns OutH*OutW*Filters when inDim is InH*InW*InC.
func (l *Convolution) OutputDim(inDim int) (int, error) {
	if inDim != l.inDim() {
		return 0, &tensor.ShapeError{Op: "nn: convolution input", Rows: inDim, Cols: -1, WantRows: l.inDim(), WantCols: -1}
	}
	return l.outDim(), nil
}

// Resize rebuilds the host patch matrix and, when bound, the accelerator
// descriptors, algorithms and workspaces for a new batch size.
func (l *Convolution) Resize(batch int) error {
	if batch == l.batch && l.col != nil && (l.acc == nil || l.devBatch == batch) {
		return nil
	}
	l.batch = batch
	l.xDesc = device.TensorDesc{N: batch, C: l.spec.InC, H: l.spec.InH, W: l.spec.InW}
	l.yDesc = device.TensorDesc{N: batch, C: l.spec.Filters, H: l.outH, W: l.outW}
	l.col = make([]float32, cpu.ColLen(l.filter, l.yDesc))
	if l.acc == nil {
		return nil
	}
	if err := l.resizeDevice(); err != nil {
		return fmt.Errorf("nn: convolution resize to batch %d: %w", batch, err)
	}
	l.devBatch = batch
	return nil
}

func (l *Convolution) resizeDevice() error {
	acc := l.acc
	releaseMemory(&l.fwdWS, &l.bwdFilterWS, &l.bwdDataWS)

	var err error
	if l.fwdAlgo, err = acc.ForwardAlgorithm(l.xDesc, l.filter, l.conv, l.yDesc); err != nil {
		return err
	}
	if l.bwdFilterAlgo, err = acc.BackwardFilterAlgorithm(l.xDesc, l.yDesc, l.conv, l.filter); err != nil {
		return err
	}
	if l.bwdDataAlgo, err = acc.BackwardDataAlgorithm(l.filter, l.yDesc, l.conv, l.xDesc); err != nil {
		return err
	}

	sizes := [3]int{}
	if sizes[0], err = acc.ForwardWorkspaceSize(l.xDesc, l.filter, l.conv, l.yDesc, l.fwdAlgo); err != nil {
		return err
	}
	if sizes[1], err = acc.BackwardFilterWorkspaceSize(l.xDesc, l.yDesc, l.conv, l.filter, l.bwdFilterAlgo); err != nil {
		return err
	}
	if sizes[2], err = acc.BackwardDataWorkspaceSize(l.filter, l.yDesc, l.conv, l.xDesc, l.bwdDataAlgo); err != nil {
		return err
	}
	for i, ws := range []*device.Memory{&l.fwdWS, &l.bwdFilterWS, &l.bwdDataWS} {
		if sizes[i] == 0 {
			continue
		}
		if *ws, err = acc.Alloc(sizes[i]); err != nil {
			return err
		}
	}
	return nil
}

// Algorithms returns the selected forward, backward-filter and backward-data
// algorithms. Valid after the layer was bound and resized.
func (l *Convolution) Algorithms() (fwd, bwdFilter, bwdData device.Algo) {
	return l.fwdAlgo, l.bwdFilterAlgo, l.bwdDataAlgo
}

func (l *Convolution) Bind(acc device.Accelerator) error {
	if err := l.bindParams(acc); err != nil {
		return err
	}
	l.devBatch = -1
	if l.col != nil {
		return l.Resize(l.batch)
	}
	return nil
}

func (l *Convolution) Release() {
	releaseMemory(&l.fwdWS, &l.bwdFilterWS, &l.bwdDataWS)
	l.devBatch = -1
	l.base.Release()
}

func (l *Convolution) ForwardHost(h *cpu.CPUBackend, in, out *tensor.Buffer) error {
	if err := checkDims("nn: convolution forward", in, out, l.inDim(), l.outDim()); err != nil {
		return err
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	return h.ConvForward(1, l.xDesc, in.Host(), l.filter, l.weight.Host(), l.conv, l.col, 0, l.yDesc, out.Host())
}

// BackwardHost reuses the patch matrix left by ForwardHost for the filter
// gradient, then overwrites it with patch gradients for the data gradient.
func (l *Convolution) BackwardHost(h *cpu.CPUBackend, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: convolution backward", in, gradOut, l.inDim(), l.outDim()); err != nil {
		return err
	}
	if err := tensor.CheckSameShape("nn: convolution grad input", in, gradIn); err != nil {
		return err
	}
	if in.Cols() != l.batch {
		return errors.New("nn: convolution backward without forward on the same batch")
	}
	if err := h.ConvBackwardFilter(1, l.xDesc, in.Host(), l.yDesc, gradOut.Host(), l.conv, l.col, false,
		0, l.filter, l.dW.Host()); err != nil {
		return err
	}
	return h.ConvBackwardData(1, l.filter, l.weight.Host(), l.yDesc, gradOut.Host(), l.conv, l.col,
		0, l.xDesc, gradIn.Host())
}

func (l *Convolution) ForwardDevice(acc device.Accelerator, in, out *tensor.Buffer) error {
	if err := checkDims("nn: convolution forward", in, out, l.inDim(), l.outDim()); err != nil {
		return err
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	m, err := memories(in, l.weight, out)
	if err != nil {
		return err
	}
	return acc.ConvolutionForward(1, l.xDesc, m[0], l.filter, m[1], l.conv, l.fwdAlgo, l.fwdWS, 0, l.yDesc, m[2])
}

// BackwardDevice computes the filter gradient, then the data gradient. Both
// read gradOut and write disjoint buffers.
func (l *Convolution) BackwardDevice(acc device.Accelerator, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: convolution backward", in, gradOut, l.inDim(), l.outDim()); err != nil {
		return err
	}
	if err := tensor.CheckSameShape("nn: convolution grad input", in, gradIn); err != nil {
		return err
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	m, err := memories(in, gradOut, l.weight, l.dW, gradIn)
	if err != nil {
		return err
	}
	x, dy, w, dw, dx := m[0], m[1], m[2], m[3], m[4]
	if err := acc.ConvolutionBackwardFilter(1, l.xDesc, x, l.yDesc, dy, l.conv, l.bwdFilterAlgo, l.bwdFilterWS,
		0, l.filter, dw); err != nil {
		return err
	}
	return acc.ConvolutionBackwardData(1, l.filter, w, l.yDesc, dy, l.conv, l.bwdDataAlgo, l.bwdDataWS,
		0, l.xDesc, dx)
}
