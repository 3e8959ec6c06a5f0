package nn

import (
	"fmt"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// Input is the first layer of every network. It only declares the input
// dimension; its output is the buffer the network copies a batch into.
type Input struct {
	base
	dims []int
	dim  int
}

// NewInput creates an input layer whose dimension is the product of dims,
// e.g. NewInput(28, 28, 1) for a 28×28 single-channel image.
func NewInput(dims ...int) (*Input, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("nn: input without dimensions: %w", tensor.ErrInvalidShape)
	}
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("nn: input dimension %v: %w", dims, tensor.ErrInvalidShape)
		}
		n *= d
	}
	return &Input{dims: append([]int(nil), dims...), dim: n}, nil
}

// Kind returns KindInput.
func (l *Input) Kind() Kind { return KindInput }

// Dim returns the flattened input dimension.
func (l *Input) Dim() int { return l.dim }

// Dims returns the declared dimensions.
func (l *Input) Dims() []int { return append([]int(nil), l.dims...) }

// OutputDim returns the flattened dimension regardless of inDim.
func (l *Input) OutputDim(int) (int, error) { return l.dim, nil }

func (l *Input) Resize(batch int) error {
	l.batch = batch
	return nil
}

func (l *Input) Bind(acc device.Accelerator) error {
	l.acc = acc
	return nil
}

func (l *Input) ForwardHost(*cpu.CPUBackend, *tensor.Buffer, *tensor.Buffer) error { return nil }

func (l *Input) BackwardHost(*cpu.CPUBackend, *tensor.Buffer, *tensor.Buffer, *tensor.Buffer) error {
	return nil
}

func (l *Input) ForwardDevice(device.Accelerator, *tensor.Buffer, *tensor.Buffer) error { return nil }

func (l *Input) BackwardDevice(device.Accelerator, *tensor.Buffer, *tensor.Buffer, *tensor.Buffer) error {
	return nil
}
