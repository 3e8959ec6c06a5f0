package device

import "fmt"

// TensorDesc describes a batch of NHWC images. In a column-major buffer each
// image is one column of H*W*C values with the channel index fastest.
type TensorDesc struct {
	N, C, H, W int
}

// Len returns the number of elements described.
func (d TensorDesc) Len() int { return d.N * d.C * d.H * d.W }

// FilterDesc describes K filters of shape H×W over C input channels.
//
// Filters are stored as a K × (H*W*C) column-major matrix, so element
// (k, (fh*W+fw)*C+c) lives at k + K*((fh*W+fw)*C+c) (HWIO order).
type FilterDesc struct {
	K, C, H, W int
}

// Len returns the number of elements described.
func (d FilterDesc) Len() int { return d.K * d.C * d.H * d.W }

// ConvDesc holds the convolution geometry. Dilation is always 1 and the
// operation is cross-correlation.
type ConvDesc struct {
	PadH, PadW       int
	StrideH, StrideW int
}

// Algo identifies a convolution algorithm.
type Algo int

// Convolution algorithms. Not every device implements every algorithm.
const (
	// AlgoDirect loops over the receptive field; needs no workspace.
	AlgoDirect Algo = iota
	// AlgoGemm materializes the patch matrix in the workspace and reduces the
	// convolution to one GEMM.
	AlgoGemm
)

// String returns the algorithm name.
func (a Algo) String() string {
	switch a {
	case AlgoDirect:
		return "direct"
	case AlgoGemm:
		return "gemm"
	default:
		return fmt.Sprintf("algo(%d)", int(a))
	}
}

// Convolutions is the descriptor-driven convolution surface of a device.
//
// Algorithm queries return the fastest algorithm by the device's heuristic;
// workspace queries return the workspace length in float32 elements for a
// given algorithm. Execution primitives receive a workspace of at least that
// length (nil when the size is zero) and compute
//
//	y = alpha*conv(x, w) + beta*y
//
// and the matching backward-filter / backward-data forms.
type Convolutions interface {
	ForwardAlgorithm(x TensorDesc, w FilterDesc, conv ConvDesc, y TensorDesc) (Algo, error)
	BackwardFilterAlgorithm(x, dy TensorDesc, conv ConvDesc, dw FilterDesc) (Algo, error)
	BackwardDataAlgorithm(w FilterDesc, dy TensorDesc, conv ConvDesc, dx TensorDesc) (Algo, error)

	ForwardWorkspaceSize(x TensorDesc, w FilterDesc, conv ConvDesc, y TensorDesc, algo Algo) (int, error)
	BackwardFilterWorkspaceSize(x, dy TensorDesc, conv ConvDesc, dw FilterDesc, algo Algo) (int, error)
	BackwardDataWorkspaceSize(w FilterDesc, dy TensorDesc, conv ConvDesc, dx TensorDesc, algo Algo) (int, error)

	ConvolutionForward(alpha float32, xDesc TensorDesc, x Memory, wDesc FilterDesc, w Memory,
		conv ConvDesc, algo Algo, workspace Memory, beta float32, yDesc TensorDesc, y Memory) error
	ConvolutionBackwardFilter(alpha float32, xDesc TensorDesc, x Memory, dyDesc TensorDesc, dy Memory,
		conv ConvDesc, algo Algo, workspace Memory, beta float32, dwDesc FilterDesc, dw Memory) error
	ConvolutionBackwardData(alpha float32, wDesc FilterDesc, w Memory, dyDesc TensorDesc, dy Memory,
		conv ConvDesc, algo Algo, workspace Memory, beta float32, dxDesc TensorDesc, dx Memory) error
}

// OutputDesc returns the output descriptor of a forward convolution, or an
// error when the geometry does not produce an exact positive integer size.
func OutputDesc(x TensorDesc, w FilterDesc, conv ConvDesc) (TensorDesc, error) {
	if x.C != w.C {
		return TensorDesc{}, fmt.Errorf("%w: input has %d channels, filter expects %d", ErrBadArgument, x.C, w.C)
	}
	h, err := OutputSize(x.H, w.H, conv.PadH, conv.StrideH)
	if err != nil {
		return TensorDesc{}, err
	}
	wd, err := OutputSize(x.W, w.W, conv.PadW, conv.StrideW)
	if err != nil {
		return TensorDesc{}, err
	}
	return TensorDesc{N: x.N, C: w.K, H: h, W: wd}, nil
}

// OutputSize returns (in - filter + 2*pad)/stride + 1 when it is an exact
// positive integer.
func OutputSize(in, filter, pad, stride int) (int, error) {
	if stride <= 0 {
		return 0, fmt.Errorf("%w: stride %d", ErrBadArgument, stride)
	}
	num := in - filter + 2*pad
	if num < 0 {
		return 0, fmt.Errorf("%w: filter %d larger than padded input %d", ErrBadArgument, filter, in+2*pad)
	}
	if num%stride != 0 {
		return 0, fmt.Errorf("%w: (%d - %d + 2*%d) not divisible by stride %d", ErrBadArgument, in, filter, pad, stride)
	}
	return num/stride + 1, nil
}
