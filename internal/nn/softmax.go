package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// Softmax normalizes every column into a probability distribution.
//
// The backward pass forwards gradOut unchanged: the network pairs Softmax
// with CrossEntropy, whose gradient pred - target is already taken with
// respect to the logits.
//
// Both paths shift each column by its maximum before exponentiation, so
// the largest exponent is exp(0) and no logit can overflow.
type Softmax struct {
	base
	dim int

	devOnes device.Memory // dim ones
	devCol  device.Memory // one value per column
}

// NewSoftmax creates a softmax layer over dim classes.
func NewSoftmax(dim int) (*Softmax, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("nn: softmax dimension %d: %w", dim, tensor.ErrInvalidShape)
	}
	return &Softmax{dim: dim}, nil
}

// Kind returns KindSoftmax.
func (l *Softmax) Kind() Kind { return KindSoftmax }

func (l *Softmax) OutputDim(inDim int) (int, error) {
	if inDim != l.dim {
		return 0, &tensor.ShapeError{Op: "nn: softmax input", Rows: inDim, Cols: -1, WantRows: l.dim, WantCols: -1}
	}
	return l.dim, nil
}

func (l *Softmax) Resize(batch int) error {
	if batch == l.batch && (l.acc == nil || l.devCol != nil) {
		return nil
	}
	l.batch = batch
	if l.acc == nil {
		return nil
	}
	releaseMemory(&l.devCol)
	m, err := l.acc.Alloc(batch)
	if err != nil {
		return fmt.Errorf("nn: softmax resize: %w", err)
	}
	l.devCol = m
	return nil
}

func (l *Softmax) Bind(acc device.Accelerator) error {
	m, err := onesMemory(acc, l.dim)
	if err != nil {
		return err
	}
	releaseMemory(&l.devOnes, &l.devCol)
	l.acc, l.devOnes = acc, m
	return l.Resize(l.batch)
}

func (l *Softmax) Release() {
	releaseMemory(&l.devOnes, &l.devCol)
	l.base.Release()
}

func (l *Softmax) ForwardHost(h *cpu.CPUBackend, in, out *tensor.Buffer) error {
	if err := checkDims("nn: softmax forward", in, out, l.dim, l.dim); err != nil {
		return err
	}
	return h.SoftmaxColumns(in.Host(), out.Host(), l.dim, in.Cols())
}

func (l *Softmax) BackwardHost(_ *cpu.CPUBackend, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: softmax backward", in, gradOut, l.dim, l.dim); err != nil {
		return err
	}
	return gradIn.CopyHost(gradOut)
}

func (l *Softmax) ForwardDevice(acc device.Accelerator, in, out *tensor.Buffer) error {
	if err := checkDims("nn: softmax forward", in, out, l.dim, l.dim); err != nil {
		return err
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	m, err := memories(in, out)
	if err != nil {
		return err
	}
	x, y := m[0], m[1]
	rows, cols := l.dim, in.Cols()

	if err := acc.Copy(y, x); err != nil {
		return err
	}
	if err := acc.MaxColumnwise(y, l.devCol, rows, cols); err != nil {
		return err
	}
	if err := acc.AddColumnwise(y, l.devCol, y, rows, cols, -1); err != nil {
		return err
	}
	if err := acc.Exp(y); err != nil {
		return err
	}
	if err := acc.Gemv(blas.Trans, rows, cols, 1, y, rows, l.devOnes, 0, l.devCol); err != nil {
		return err
	}
	return acc.DivideColumnwise(y, l.devCol, rows, cols)
}

func (l *Softmax) BackwardDevice(acc device.Accelerator, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: softmax backward", in, gradOut, l.dim, l.dim); err != nil {
		return err
	}
	m, err := memories(gradIn, gradOut)
	if err != nil {
		return err
	}
	return acc.Copy(m[0], m[1])
}
