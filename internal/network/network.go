// Package network chains layers into a trainable model.
//
// A Network owns one forward buffer and one gradient buffer per layer:
// vals[i] is the output of layer i (vals[0] holds the input batch) and
// grads[i] the gradient of the loss with respect to vals[i]. Forward walks
// layers 1..n-1; Backward walks them in reverse and never enters the Input
// layer.
//
// Training runs a producer goroutine that samples and gathers mini-batches
// and a consumer goroutine that runs forward, backward and the optimizer,
// connected by a queue. See Train.
package network

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/nn"
	"github.com/born-ml/duet/internal/tensor"
)

// Construction errors.
var (
	ErrNoLayers = errors.New("network: no layers")
	ErrNoInput  = errors.New("network: first layer must be Input")
)

// Network is a linear chain of layers with a cross-entropy loss.
// A Network is not safe for concurrent use; Train runs its own goroutines
// and returns only after they finished.
type Network struct {
	layers  []nn.Layer
	loss    *nn.CrossEntropy
	backend Backend
	logger  *slog.Logger

	host *cpu.CPUBackend
	acc  device.Accelerator
	seed uint64

	dims   []int
	batch  int
	vals   []*tensor.Buffer
	grads  []*tensor.Buffer
	target *tensor.Buffer
}

// Option configures a Network.
type Option func(*Network)

// WithAccelerator runs the network on acc instead of the host.
func WithAccelerator(acc device.Accelerator) Option {
	return func(n *Network) { n.acc = acc }
}

// WithHost sets the host backend. Defaults to cpu.New().
func WithHost(h *cpu.CPUBackend) Option {
	return func(n *Network) { n.host = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) { n.logger = l }
}

// WithSeed redraws every layer's initial weights from seed, making runs
// reproducible.
func WithSeed(seed uint64) Option {
	return func(n *Network) { n.seed = seed }
}

// New builds a network from layers, which must start with an Input layer.
// A nil loss selects a new cross-entropy loss. Dimensions between layers are
// checked by Allocate, not here.
func New(layers []nn.Layer, loss *nn.CrossEntropy, opts ...Option) (*Network, error) {
	if len(layers) == 0 {
		return nil, ErrNoLayers
	}
	if layers[0].Kind() != nn.KindInput {
		return nil, fmt.Errorf("%w, got %v", ErrNoInput, layers[0].Kind())
	}
	for i, l := range layers[1:] {
		if l.Kind() == nn.KindInput {
			return nil, fmt.Errorf("network: Input at position %d: %w", i+1, ErrNoInput)
		}
	}
	if loss == nil {
		loss = nn.NewCrossEntropy()
	}

	n := &Network{layers: append([]nn.Layer(nil), layers...), loss: loss}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.host == nil {
		n.host = cpu.New()
	}
	if n.seed != 0 {
		rng := rand.New(rand.NewPCG(n.seed, n.seed^0x5851f42d4c957f2d))
		for _, l := range n.layers {
			nn.Reinitialize(l, rng)
		}
	}

	if n.acc != nil {
		n.backend = accelBackend{acc: n.acc}
	} else {
		n.backend = hostBackend{h: n.host}
	}
	for _, l := range n.layers {
		if err := n.backend.Bind(l); err != nil {
			n.Release()
			return nil, fmt.Errorf("network: bind %v to %s: %w", l.Kind(), n.backend.Name(), err)
		}
	}
	n.logger.Info("network created", "backend", n.backend.Name(), "layers", len(n.layers))
	return n, nil
}

// Layers returns the layers in order.
func (n *Network) Layers() []nn.Layer { return n.layers }

// Backend returns the backend chosen at construction.
func (n *Network) Backend() Backend { return n.backend }

// InputDim returns the dimension of the Input layer.
func (n *Network) InputDim() int {
	d, _ := n.layers[0].OutputDim(0)
	return d
}

// Shapes infers every layer's output dimension, failing with
// tensor.ErrShapeMismatch at the first incompatible pair.
func (n *Network) Shapes() ([]int, error) {
	dims := make([]int, len(n.layers))
	dims[0] = n.InputDim()
	for i := 1; i < len(n.layers); i++ {
		d, err := n.layers[i].OutputDim(dims[i-1])
		if err != nil {
			return nil, fmt.Errorf("network: layer %d (%v): %w", i, n.layers[i].Kind(), err)
		}
		dims[i] = d
	}
	return dims, nil
}

// OutputDim returns the dimension of the last layer.
func (n *Network) OutputDim() (int, error) {
	dims, err := n.Shapes()
	if err != nil {
		return 0, err
	}
	return dims[len(dims)-1], nil
}

// Allocate sizes the forward and gradient buffers and every layer's scratch
// state for batch observations. It is a no-op for the current batch size.
func (n *Network) Allocate(batch int) error {
	if batch <= 0 {
		return fmt.Errorf("network: batch size %d: %w", batch, tensor.ErrInvalidShape)
	}
	if batch == n.batch && n.vals != nil {
		return nil
	}
	dims, err := n.Shapes()
	if err != nil {
		return err
	}
	n.releaseBuffers()

	n.dims = dims
	n.vals = make([]*tensor.Buffer, len(dims))
	n.grads = make([]*tensor.Buffer, len(dims))
	for i, d := range dims {
		n.vals[i] = tensor.New(d, batch)
		n.grads[i] = tensor.New(d, batch)
		if err := n.backend.Attach(n.vals[i], n.grads[i]); err != nil {
			return err
		}
	}
	n.target = tensor.New(dims[len(dims)-1], batch)
	if err := n.backend.Attach(n.target); err != nil {
		return err
	}
	for i, l := range n.layers {
		if err := l.Resize(batch); err != nil {
			return fmt.Errorf("network: resize layer %d (%v): %w", i, l.Kind(), err)
		}
	}
	n.batch = batch
	n.logger.Debug("network allocated", "batch", batch, "dims", dims)
	return nil
}

// Input returns the input slot, vals[0]. Valid after Allocate.
func (n *Network) Input() *tensor.Buffer { return n.vals[0] }

// Output returns the last layer's output. Valid after Allocate.
func (n *Network) Output() *tensor.Buffer { return n.vals[len(n.vals)-1] }

// Forward runs every layer after Input on the backend.
func (n *Network) Forward() error {
	for i := 1; i < len(n.layers); i++ {
		if err := n.backend.Forward(n.layers[i], n.vals[i-1], n.vals[i]); err != nil {
			return fmt.Errorf("network: forward layer %d (%v): %w", i, n.layers[i].Kind(), err)
		}
	}
	return nil
}

// Backward propagates the gradient in grads[n-1] down to layer 1.
func (n *Network) Backward() error {
	for i := len(n.layers) - 1; i >= 1; i-- {
		if err := n.backend.Backward(n.layers[i], n.vals[i-1], n.grads[i], n.grads[i-1]); err != nil {
			return fmt.Errorf("network: backward layer %d (%v): %w", i, n.layers[i].Kind(), err)
		}
	}
	return nil
}

// load copies a column-major batch into the input and target slots.
func (n *Network) load(features, targets *tensor.Buffer) error {
	if err := n.Allocate(features.Cols()); err != nil {
		return err
	}
	if err := n.vals[0].CopyHost(features); err != nil {
		return err
	}
	if err := n.target.CopyHost(targets); err != nil {
		return err
	}
	if err := n.backend.Load(n.vals[0]); err != nil {
		return err
	}
	return n.backend.Load(n.target)
}

// Predict runs the network in inference mode on input (observations as
// rows) and returns the outputs, one row per observation.
func (n *Network) Predict(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	if cols != n.InputDim() {
		return nil, fmt.Errorf("network: predict input has %d columns, want %d: %w", cols, n.InputDim(), tensor.ErrShapeMismatch)
	}
	n.setTraining(false)
	defer n.setTraining(true)

	if err := n.Allocate(rows); err != nil {
		return nil, err
	}
	if err := n.vals[0].CopyFromDense(input); err != nil {
		return nil, err
	}
	if err := n.backend.Load(n.vals[0]); err != nil {
		return nil, err
	}
	if err := n.Forward(); err != nil {
		return nil, err
	}
	out := n.Output()
	if err := n.backend.Fetch(out); err != nil {
		return nil, err
	}
	return out.Dense(), nil
}

type trainable interface {
	SetTraining(bool)
}

// setTraining toggles layers that behave differently during training.
func (n *Network) setTraining(on bool) {
	for _, l := range n.layers {
		if t, ok := l.(trainable); ok {
			t.SetTraining(on)
		}
	}
}

func (n *Network) releaseBuffers() {
	for _, b := range n.vals {
		b.Release()
	}
	for _, b := range n.grads {
		b.Release()
	}
	if n.target != nil {
		n.target.Release()
	}
	n.vals, n.grads, n.target, n.batch = nil, nil, nil, 0
}

// Release frees every accelerator resource held by the network. The
// accelerator itself stays open.
func (n *Network) Release() {
	n.releaseBuffers()
	for _, l := range n.layers {
		l.Release()
	}
	n.loss.Release()
}
