package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// Dense implements a fully connected layer.
//
// Performs the transformation: out = W·in + b
// where:
//   - in is the input buffer with shape [in, batch]
//   - W is the weight matrix with shape [out, in]
//   - b is the bias vector with shape [out, 1]
//   - out is the output buffer with shape [out, batch]
//
// Backward computes dW = gradOut·inᵀ, db = gradOut·1 and gradIn = Wᵀ·gradOut.
// The bias is broadcast with a rank-1 GEMM against a vector of ones, so both
// backends use only BLAS calls.
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Dense struct {
	base
	in, out int

	weight, bias *tensor.Buffer
	dW, db       *tensor.Buffer

	hostOnes []float32
	devOnes  device.Memory
}

// NewDense creates a new Dense layer mapping in features to out features.
func NewDense(in, out int) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("nn: dense %d→%d: %w", in, out, tensor.ErrInvalidShape)
	}
	l := &Dense{
		in:     in,
		out:    out,
		weight: tensor.New(out, in),
		bias:   tensor.New(out, 1),
		dW:     tensor.New(out, in),
		db:     tensor.New(out, 1),
	}
	l.params = []*tensor.Buffer{l.weight, l.bias}
	l.grads = []*tensor.Buffer{l.dW, l.db}
	l.initialize(newRand())
	return l, nil
}

func (l *Dense) initialize(rng *rand.Rand) {
	Xavier(rng, l.in, l.out, l.weight)
	l.bias.Zero()
}

// Kind returns KindDense.
func (l *Dense) Kind() Kind { return KindDense }

// Weight returns the [out, in] weight buffer.
func (l *Dense) Weight() *tensor.Buffer { return l.weight }

// Bias returns the [out, 1] bias buffer.
func (l *Dense) Bias() *tensor.Buffer { return l.bias }

// OutputDim returns out when inDim equals the declared input width.
func (l *Dense) OutputDim(inDim int) (int, error) {
	if inDim != l.in {
		return 0, &tensor.ShapeError{Op: "nn: dense input", Rows: inDim, Cols: -1, WantRows: l.in, WantCols: -1}
	}
	return l.out, nil
}

// Resize rebuilds the ones vector used to broadcast the bias.
func (l *Dense) Resize(batch int) error {
	if batch == l.batch && l.hostOnes != nil {
		return nil
	}
	l.batch = batch
	l.hostOnes = ones(batch)
	if l.acc == nil {
		return nil
	}
	releaseMemory(&l.devOnes)
	m, err := onesMemory(l.acc, batch)
	if err != nil {
		return fmt.Errorf("nn: dense resize: %w", err)
	}
	l.devOnes = m
	return nil
}

func (l *Dense) Bind(acc device.Accelerator) error {
	if err := l.bindParams(acc); err != nil {
		return err
	}
	if l.batch > 0 {
		batch := l.batch
		l.batch = 0
		return l.Resize(batch)
	}
	return nil
}

func (l *Dense) Release() {
	releaseMemory(&l.devOnes)
	l.base.Release()
}

func (l *Dense) ForwardHost(h *cpu.CPUBackend, in, out *tensor.Buffer) error {
	if err := checkDims("nn: dense forward", in, out, l.in, l.out); err != nil {
		return err
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	b := in.Cols()
	if err := h.Gemm(blas.NoTrans, blas.NoTrans, l.out, b, l.in,
		1, l.weight.Host(), l.out, in.Host(), l.in, 0, out.Host(), l.out); err != nil {
		return err
	}
	return h.Gemm(blas.NoTrans, blas.NoTrans, l.out, b, 1,
		1, l.bias.Host(), l.out, l.hostOnes, 1, 1, out.Host(), l.out)
}

func (l *Dense) BackwardHost(h *cpu.CPUBackend, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: dense backward", in, gradOut, l.in, l.out); err != nil {
		return err
	}
	if err := tensor.CheckSameShape("nn: dense grad input", in, gradIn); err != nil {
		return err
	}
	b := in.Cols()
	if err := h.Gemm(blas.NoTrans, blas.Trans, l.out, l.in, b,
		1, gradOut.Host(), l.out, in.Host(), l.in, 0, l.dW.Host(), l.out); err != nil {
		return err
	}
	if err := h.Gemv(blas.NoTrans, l.out, b, 1, gradOut.Host(), l.out, l.hostOnes, 0, l.db.Host()); err != nil {
		return err
	}
	return h.Gemm(blas.Trans, blas.NoTrans, l.in, b, l.out,
		1, l.weight.Host(), l.out, gradOut.Host(), l.out, 0, gradIn.Host(), l.in)
}

func (l *Dense) ForwardDevice(acc device.Accelerator, in, out *tensor.Buffer) error {
	if err := checkDims("nn: dense forward", in, out, l.in, l.out); err != nil {
		return err
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	m, err := memories(l.weight, l.bias, in, out)
	if err != nil {
		return err
	}
	b := in.Cols()
	if err := acc.Gemm(blas.NoTrans, blas.NoTrans, l.out, b, l.in, 1, m[0], l.out, m[2], l.in, 0, m[3], l.out); err != nil {
		return err
	}
	return acc.Gemm(blas.NoTrans, blas.NoTrans, l.out, b, 1, 1, m[1], l.out, l.devOnes, 1, 1, m[3], l.out)
}

func (l *Dense) BackwardDevice(acc device.Accelerator, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: dense backward", in, gradOut, l.in, l.out); err != nil {
		return err
	}
	if err := tensor.CheckSameShape("nn: dense grad input", in, gradIn); err != nil {
		return err
	}
	m, err := memories(l.weight, l.dW, l.db, in, gradOut, gradIn)
	if err != nil {
		return err
	}
	w, dW, db, x, gy, gx := m[0], m[1], m[2], m[3], m[4], m[5]
	b := in.Cols()
	if err := acc.Gemm(blas.NoTrans, blas.Trans, l.out, l.in, b, 1, gy, l.out, x, l.in, 0, dW, l.out); err != nil {
		return err
	}
	if err := acc.Gemv(blas.NoTrans, l.out, b, 1, gy, l.out, l.devOnes, 0, db); err != nil {
		return err
	}
	return acc.Gemm(blas.Trans, blas.NoTrans, l.in, b, l.out, 1, w, l.out, gy, l.out, 0, gx, l.in)
}
