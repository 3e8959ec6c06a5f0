package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// Dropout zeroes each unit with probability p during training and scales the
// survivors by 1/(1-p), so inference is the identity. The mask drawn in
// Forward is reused by Backward.
type Dropout struct {
	base
	p        float32
	dim      int
	training bool

	rng  *rand.Rand
	mask *tensor.Buffer
}

// NewDropout creates a dropout layer over dim features with drop
// probability p in [0, 1).
func NewDropout(p float32, dim int) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("nn: dropout probability %g: %w", p, device.ErrBadArgument)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("nn: dropout dimension %d: %w", dim, tensor.ErrInvalidShape)
	}
	return &Dropout{p: p, dim: dim, training: true, rng: newRand(), mask: tensor.New(dim, 0)}, nil
}

func (l *Dropout) initialize(rng *rand.Rand) {
	l.rng = rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))
}

// Kind returns KindDropout.
func (l *Dropout) Kind() Kind { return KindDropout }

// P returns the drop probability.
func (l *Dropout) P() float32 { return l.p }

// SetTraining switches between training (masking) and inference (identity).
func (l *Dropout) SetTraining(training bool) { l.training = training }

func (l *Dropout) OutputDim(inDim int) (int, error) {
	if inDim != l.dim {
		return 0, &tensor.ShapeError{Op: "nn: dropout input", Rows: inDim, Cols: -1, WantRows: l.dim, WantCols: -1}
	}
	return l.dim, nil
}

// Resize reallocates the mask, keeping its accelerator mirror.
func (l *Dropout) Resize(batch int) error {
	if batch == l.batch && l.mask.Cols() == batch {
		return nil
	}
	l.batch = batch
	return l.mask.Resize(l.dim, batch)
}

func (l *Dropout) Bind(acc device.Accelerator) error {
	l.acc = acc
	return l.mask.Attach(acc)
}

func (l *Dropout) Release() {
	l.mask.Release()
	l.base.Release()
}

func (l *Dropout) active() bool { return l.training && l.p > 0 }

func (l *Dropout) ForwardHost(h *cpu.CPUBackend, in, out *tensor.Buffer) error {
	if err := checkDims("nn: dropout forward", in, out, l.dim, l.dim); err != nil {
		return err
	}
	if !l.active() {
		return out.CopyHost(in)
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	h.Mask(l.mask.Host(), 1-l.p, l.rng.Uint64())
	return h.Mul(in.Host(), l.mask.Host(), out.Host())
}

func (l *Dropout) BackwardHost(h *cpu.CPUBackend, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: dropout backward", in, gradOut, l.dim, l.dim); err != nil {
		return err
	}
	if !l.active() {
		return gradIn.CopyHost(gradOut)
	}
	return h.Mul(gradOut.Host(), l.mask.Host(), gradIn.Host())
}

func (l *Dropout) ForwardDevice(acc device.Accelerator, in, out *tensor.Buffer) error {
	if err := checkDims("nn: dropout forward", in, out, l.dim, l.dim); err != nil {
		return err
	}
	if err := l.Resize(in.Cols()); err != nil {
		return err
	}
	m, err := memories(in, out, l.mask)
	if err != nil {
		return err
	}
	if !l.active() {
		return acc.Copy(m[1], m[0])
	}
	if err := acc.Mask(m[2], 1-l.p, l.rng.Uint64()); err != nil {
		return err
	}
	return acc.Mul(m[0], m[2], m[1])
}

func (l *Dropout) BackwardDevice(acc device.Accelerator, in, gradOut, gradIn *tensor.Buffer) error {
	if err := checkDims("nn: dropout backward", in, gradOut, l.dim, l.dim); err != nil {
		return err
	}
	m, err := memories(gradOut, gradIn, l.mask)
	if err != nil {
		return err
	}
	if !l.active() {
		return acc.Copy(m[1], m[0])
	}
	return acc.Mul(m[0], m[2], m[1])
}
