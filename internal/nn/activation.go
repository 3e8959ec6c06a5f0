package nn

import (
	"fmt"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// ActivationFunc selects the nonlinearity of an Activation layer.
type ActivationFunc int

// Supported activation functions.
const (
	ReLU ActivationFunc = iota
)

// String returns the function name.
func (f ActivationFunc) String() string {
	if f == ReLU {
		return "relu"
	}
	return fmt.Sprintf("activation(%d)", int(f))
}

// Activation applies an elementwise nonlinearity. Output shape equals input
// shape.
//
// ReLU(x) = max(0, x); the backward pass lets the gradient through where the
// forward input was positive.
type Activation struct {
	base
	fn  ActivationFunc
	dim int
}

// NewActivation creates an activation layer over dim features.
func NewActivation(fn ActivationFunc, dim int) (*Activation, error) {
	if fn != ReLU {
		return nil, fmt.Errorf("nn: unknown activation %v: %w", fn, device.ErrBadArgument)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("nn: activation dimension %d: %w", dim, tensor.ErrInvalidShape)
	}
	return &Activation{fn: fn, dim: dim}, nil
}

// Kind returns KindActivation.
func (l *Activation) Kind() Kind { return KindActivation }

// Func returns the activation function.
func (l *Activation) Func() ActivationFunc { return l.fn }

func (l *Activation) OutputDim(inDim int) (int, error) {
	if inDim != l.dim {
		return 0, &tensor.ShapeError{Op: "nn: activation input", Rows: inDim, Cols: -1, WantRows: l.dim, WantCols: -1}
	}
	return l.dim, nil
}

func (l *Activation) Resize(batch int) error {
	l.batch = batch
	return nil
}

func (l *Activation) Bind(acc device.Accelerator) error {
	l.acc = acc
	return nil
}

func (l *Activation) ForwardHost(h *cpu.CPUBackend, in, out *tensor.Buffer) error {
	if err := checkDims("nn: relu forward", in, out, l.dim, l.dim); err != nil {
		return err
	}
	return h.ReLU(out.Host(), in.Host())
}

func (l *Activation) BackwardHost(h *cpu.CPUBackend, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: relu backward", in, gradOut, l.dim, l.dim); err != nil {
		return err
	}
	return h.ReLUBackward(in.Host(), gradOut.Host(), gradIn.Host())
}

func (l *Activation) ForwardDevice(acc device.Accelerator, in, out *tensor.Buffer) error {
	if err := checkDims("nn: relu forward", in, out, l.dim, l.dim); err != nil {
		return err
	}
	m, err := memories(out, in)
	if err != nil {
		return err
	}
	return acc.ReLU(m[0], m[1])
}

func (l *Activation) BackwardDevice(acc device.Accelerator, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: relu backward", in, gradOut, l.dim, l.dim); err != nil {
		return err
	}
	m, err := memories(in, gradOut, gradIn)
	if err != nil {
		return err
	}
	return acc.ReLUBackward(m[0], m[1], m[2])
}
