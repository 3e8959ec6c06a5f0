package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// DistributionTolerance is how far a prediction column may sum from 1 before
// Loss rejects it. float32 softmax outputs drift by a few ulps per class.
const DistributionTolerance = 1e-4

// CrossEntropy is the categorical cross-entropy loss over one-hot targets.
//
//	Loss = Σ_columns -ln(pred[r, c])  where target[r, c] == 1
//	Grad = pred - target
//
// The gradient is only correct when pred is the output of a Softmax layer:
// it is the gradient of the composition with respect to the logits.
//
// The loss is a sum; divide by the number of columns for a mean.
type CrossEntropy struct {
	hostSums   []float32
	hostLosses []float64

	acc        device.Accelerator
	rows, cols int
	devOnes    device.Memory
	devSums    device.Memory
	devLosses  device.Memory
	sumsHost   []float32
	lossesHost []float32
}

// NewCrossEntropy creates a cross-entropy loss.
func NewCrossEntropy() *CrossEntropy {
	return &CrossEntropy{}
}

// checkDistribution rejects columns whose sum is not within tolerance of 1.
// A NaN or infinite sum fails the comparison and is rejected too.
func checkDistribution(sums []float32) error {
	for c, s := range sums {
		if !(math.Abs(float64(s)-1) <= DistributionTolerance) {
			return fmt.Errorf("nn: cross-entropy column %d sums to %g: %w", c, s, tensor.ErrInvalidDistribution)
		}
	}
	return nil
}

// Loss returns the summed loss over all columns on the host.
func (ce *CrossEntropy) Loss(h *cpu.CPUBackend, pred, target *tensor.Buffer) (float64, error) {
	if err := tensor.CheckSameShape("nn: cross-entropy", pred, target); err != nil {
		return 0, err
	}
	rows, cols := pred.Rows(), pred.Cols()
	if len(ce.hostSums) != cols {
		ce.hostSums = make([]float32, cols)
		ce.hostLosses = make([]float64, cols)
	}
	if err := h.ColumnSums(pred.Host(), rows, cols, ce.hostSums); err != nil {
		return 0, err
	}
	if err := checkDistribution(ce.hostSums); err != nil {
		return 0, err
	}
	if err := h.CrossEntropyLosses(pred.Host(), target.Host(), ce.hostLosses, rows, cols); err != nil {
		return 0, err
	}
	return floats.Sum(ce.hostLosses), nil
}

// Grad writes pred - target into grad on the host.
func (ce *CrossEntropy) Grad(h *cpu.CPUBackend, grad, pred, target *tensor.Buffer) error {
	if err := tensor.CheckSameShape("nn: cross-entropy grad", pred, target); err != nil {
		return err
	}
	if err := tensor.CheckSameShape("nn: cross-entropy grad", pred, grad); err != nil {
		return err
	}
	return h.CrossEntropyGrad(grad.Host(), pred.Host(), target.Host())
}

// prepare (re)allocates the device scratch for a rows×cols prediction.
func (ce *CrossEntropy) prepare(acc device.Accelerator, rows, cols int) error {
	if ce.acc == acc && ce.rows == rows && ce.cols == cols && ce.devOnes != nil {
		return nil
	}
	ce.Release()
	ones, err := onesMemory(acc, rows)
	if err != nil {
		return err
	}
	ce.acc, ce.rows, ce.cols, ce.devOnes = acc, rows, cols, ones
	if ce.devSums, err = acc.Alloc(cols); err != nil {
		return err
	}
	if ce.devLosses, err = acc.Alloc(cols); err != nil {
		return err
	}
	ce.sumsHost = make([]float32, cols)
	ce.lossesHost = make([]float32, cols)
	return nil
}

// LossDevice returns the summed loss computed on acc. Column sums are taken
// with a GEMV against ones and checked on the host.
func (ce *CrossEntropy) LossDevice(acc device.Accelerator, pred, target *tensor.Buffer) (float64, error) {
	if err := tensor.CheckSameShape("nn: cross-entropy", pred, target); err != nil {
		return 0, err
	}
	rows, cols := pred.Rows(), pred.Cols()
	if err := ce.prepare(acc, rows, cols); err != nil {
		return 0, err
	}
	m, err := memories(pred, target)
	if err != nil {
		return 0, err
	}
	if err := acc.Gemv(blas.Trans, rows, cols, 1, m[0], rows, ce.devOnes, 0, ce.devSums); err != nil {
		return 0, err
	}
	if err := acc.Download(ce.sumsHost, ce.devSums); err != nil {
		return 0, err
	}
	if err := checkDistribution(ce.sumsHost); err != nil {
		return 0, err
	}
	if err := acc.CrossEntropyLosses(m[0], m[1], ce.devLosses, rows, cols); err != nil {
		return 0, err
	}
	if err := acc.Download(ce.lossesHost, ce.devLosses); err != nil {
		return 0, err
	}
	var total float64
	for _, v := range ce.lossesHost {
		total += float64(v)
	}
	return total, nil
}

// GradDevice writes pred - target into grad on acc.
func (ce *CrossEntropy) GradDevice(acc device.Accelerator, grad, pred, target *tensor.Buffer) error {
	if err := tensor.CheckSameShape("nn: cross-entropy grad", pred, target); err != nil {
		return err
	}
	if err := tensor.CheckSameShape("nn: cross-entropy grad", pred, grad); err != nil {
		return err
	}
	m, err := memories(grad, pred, target)
	if err != nil {
		return err
	}
	return acc.CrossEntropyGrad(m[0], m[1], m[2])
}

// Release frees the device scratch.
func (ce *CrossEntropy) Release() {
	releaseMemory(&ce.devOnes, &ce.devSums, &ce.devLosses)
	ce.acc = nil
}
