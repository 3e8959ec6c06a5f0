// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: in-place parameter updates on either backend
//   - SGD: Stochastic Gradient Descent with optional momentum
//   - State: per-layer helper state owned by the training session
//
// Gradients arrive as sums over the mini-batch, so every update divides the
// learning rate by the batch size.
//
// Example usage:
//
//	opt := optim.NewSGD(optim.SGDConfig{LR: 0.05, Momentum: 0.9})
//	state := opt.NewState(layer.Parameters())
//
//	// After a backward pass on the host:
//	err := opt.UpdateHost(h, layer.Gradients(), layer.Parameters(), batch, state)
package optim

import (
	"errors"
	"fmt"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// ErrStateMismatch is returned when helper state was created for a different
// parameter list.
var ErrStateMismatch = errors.New("optim: state does not match parameters")

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update parameters in place from the gradients left by the last
// backward pass. The host and accelerator variants read and write the host
// arrays and the accelerator mirrors respectively.
type Optimizer interface {
	// NewState creates the helper state for one layer's parameters.
	NewState(params []*tensor.Buffer) *State

	// UpdateHost applies one step to host parameters.
	UpdateHost(h *cpu.CPUBackend, grads, params []*tensor.Buffer, batch int, state *State) error

	// UpdateDevice applies one step to accelerator parameters.
	UpdateDevice(acc device.Accelerator, grads, params []*tensor.Buffer, batch int, state *State) error

	// GetLR returns the current learning rate.
	GetLR() float32
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// State is the opaque per-layer helper state of an optimizer. It holds one
// buffer per parameter (or none) and is mirrored onto the accelerator the
// parameters live on.
type State struct {
	buffers []*tensor.Buffer
}

// Len returns the number of helper buffers.
func (s *State) Len() int { return len(s.buffers) }

// Buffer returns helper buffer i.
func (s *State) Buffer(i int) *tensor.Buffer { return s.buffers[i] }

// Bind mirrors the helper buffers onto acc, uploading their host contents.
func (s *State) Bind(acc device.Accelerator) error {
	for _, b := range s.buffers {
		if err := b.Attach(acc); err != nil {
			return err
		}
		if err := b.ToDevice(); err != nil {
			return err
		}
	}
	return nil
}

// Release frees the accelerator mirrors.
func (s *State) Release() {
	for _, b := range s.buffers {
		b.Release()
	}
}

// check validates grads and params against each other and, when the state
// carries buffers, against the state.
func (s *State) check(grads, params []*tensor.Buffer, batch int) error {
	if batch <= 0 {
		return fmt.Errorf("optim: batch size %d: %w", batch, tensor.ErrInvalidShape)
	}
	if len(grads) != len(params) {
		return fmt.Errorf("optim: %d gradients for %d parameters: %w", len(grads), len(params), tensor.ErrShapeMismatch)
	}
	for i := range params {
		if err := tensor.CheckSameShape("optim: gradient", params[i], grads[i]); err != nil {
			return err
		}
	}
	if s == nil || len(s.buffers) == 0 {
		return nil
	}
	if len(s.buffers) != len(params) {
		return ErrStateMismatch
	}
	for i := range params {
		if err := tensor.CheckSameShape("optim: state", params[i], s.buffers[i]); err != nil {
			return fmt.Errorf("%w: %w", ErrStateMismatch, err)
		}
	}
	return nil
}
