// Package nn implements the layers and the loss of the training engine.
//
// This package provides:
//   - Layer: sealed interface over the finite set of layer kinds
//   - Input, Dense, Activation, Dropout, Convolution, Softmax
//   - CrossEntropy: categorical cross-entropy loss
//
// Every layer computes its forward and hand-derived backward pass twice: once
// on host memory through the cpu backend and once on an accelerator through
// the device contract. Both halves read and write the same tensor.Buffer
// objects; the host half touches Host(), the accelerator half the mirror.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// Kind identifies a layer variant.
type Kind int

// Layer kinds.
const (
	KindInput Kind = iota
	KindDense
	KindActivation
	KindDropout
	KindConvolution
	KindSoftmax
)

// String returns the layer kind name.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindDense:
		return "Dense"
	case KindActivation:
		return "Activation"
	case KindDropout:
		return "Dropout"
	case KindConvolution:
		return "Convolution"
	case KindSoftmax:
		return "Softmax"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Layer is one stage of a network.
//
// Buffers passed to a layer have one observation per column. For a layer
// with input dimension D and output dimension O and a batch of B:
//   - in is D×B, out is O×B
//   - gradOut is O×B (gradient of the loss with respect to out)
//   - gradIn is D×B (gradient with respect to in, written by Backward)
//
// Backward must follow Forward on the same batch. It overwrites the
// gradient buffers; nothing accumulates across calls.
//
// The interface is sealed: only the kinds in this package implement it.
type Layer interface {
	// Kind returns the layer variant.
	Kind() Kind

	// OutputDim infers the output dimension from the input dimension,
	// failing with tensor.ErrShapeMismatch when the layer cannot accept it.
	OutputDim(inDim int) (int, error)

	// Parameters and Gradients return matching lists of buffers with
	// identical shapes. Both are empty for layers without weights.
	Parameters() []*tensor.Buffer
	Gradients() []*tensor.Buffer

	// Resize reallocates batch-shaped scratch state on the host and, when
	// bound, on the accelerator. It is a no-op for an unchanged batch size.
	Resize(batch int) error

	// Bind mirrors parameters, gradients and scratch state onto acc.
	Bind(acc device.Accelerator) error

	ForwardHost(h *cpu.CPUBackend, in, out *tensor.Buffer) error
	BackwardHost(h *cpu.CPUBackend, in, gradOut, gradIn *tensor.Buffer) error
	ForwardDevice(acc device.Accelerator, in, out *tensor.Buffer) error
	BackwardDevice(acc device.Accelerator, in, gradOut, gradIn *tensor.Buffer) error

	// Release frees accelerator state. Host state stays valid.
	Release()

	initialize(rng *rand.Rand)
}

// base carries the state every layer shares.
type base struct {
	batch  int
	acc    device.Accelerator
	params []*tensor.Buffer
	grads  []*tensor.Buffer
}

func (b *base) Parameters() []*tensor.Buffer { return b.params }
func (b *base) Gradients() []*tensor.Buffer  { return b.grads }

func (b *base) initialize(*rand.Rand) {}

// bindParams mirrors parameters and gradients onto acc and uploads them.
func (b *base) bindParams(acc device.Accelerator) error {
	for _, buf := range append(append([]*tensor.Buffer(nil), b.params...), b.grads...) {
		if err := buf.Attach(acc); err != nil {
			return err
		}
		if err := buf.ToDevice(); err != nil {
			return err
		}
	}
	b.acc = acc
	return nil
}

func (b *base) Release() {
	for _, buf := range b.params {
		buf.Release()
	}
	for _, buf := range b.grads {
		buf.Release()
	}
	b.acc = nil
}

// newRand returns a generator seeded from the global source.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Xavier fills b with Glorot/Xavier uniform values:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out))).
func Xavier(rng *rand.Rand, fanIn, fanOut int, b *tensor.Buffer) {
	bound := math.Sqrt(6.0) / math.Sqrt(float64(fanIn+fanOut))
	data := b.Host()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
}

// memories returns the accelerator mirrors of bufs.
func memories(bufs ...*tensor.Buffer) ([]device.Memory, error) {
	out := make([]device.Memory, len(bufs))
	for i, b := range bufs {
		m, err := b.DeviceMemory()
		if err != nil {
			return nil, fmt.Errorf("nn: %v has no accelerator mirror: %w", b, err)
		}
		out[i] = m
	}
	return out, nil
}

// onesMemory allocates n ones on acc.
func onesMemory(acc device.Accelerator, n int) (device.Memory, error) {
	m, err := acc.Alloc(n)
	if err != nil {
		return nil, err
	}
	if err := acc.Fill(m, 1); err != nil {
		m.Release()
		return nil, err
	}
	return m, nil
}

func ones(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func releaseMemory(ms ...*device.Memory) {
	for _, m := range ms {
		if *m != nil {
			(*m).Release()
			*m = nil
		}
	}
}

// checkDims verifies in and out against the layer dimensions.
func checkDims(op string, in, out *tensor.Buffer, inDim, outDim int) error {
	if err := tensor.CheckShape(op+" input", in, inDim, -1); err != nil {
		return err
	}
	return tensor.CheckShape(op+" output", out, outDim, in.Cols())
}

// Reinitialize redraws the weights of l from rng.
func Reinitialize(l Layer, rng *rand.Rand) {
	l.initialize(rng)
}
