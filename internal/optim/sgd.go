package optim

import (
	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/tensor"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - (lr / batch) * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - (lr / batch) * velocity
//
// The velocities live in the per-layer State, so SGD itself is stateless and
// may be shared by every layer of a network.
type SGD struct {
	lr       float32
	momentum float32
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{lr: config.LR, momentum: config.Momentum}
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 { return s.lr }

// SetLR updates the learning rate.
//
// Useful for learning rate scheduling during training.
func (s *SGD) SetLR(lr float32) { s.lr = lr }

// Momentum returns the momentum factor.
func (s *SGD) Momentum() float32 { return s.momentum }

// NewState returns zeroed velocities shaped like params when momentum is
// enabled, and an empty state otherwise.
func (s *SGD) NewState(params []*tensor.Buffer) *State {
	st := &State{}
	if s.momentum == 0 {
		return st
	}
	for _, p := range params {
		st.buffers = append(st.buffers, tensor.New(p.Rows(), p.Cols()))
	}
	return st
}

func (s *SGD) check(grads, params []*tensor.Buffer, batch int, state *State) error {
	if s.momentum != 0 && (state == nil || state.Len() != len(params)) {
		return ErrStateMismatch
	}
	return state.check(grads, params, batch)
}

// UpdateHost performs one step on the host arrays.
func (s *SGD) UpdateHost(h *cpu.CPUBackend, grads, params []*tensor.Buffer, batch int, state *State) error {
	if err := s.check(grads, params, batch, state); err != nil {
		return err
	}
	step := -s.lr / float32(batch)
	for i, p := range params {
		g := grads[i].Host()
		if s.momentum != 0 {
			v := state.buffers[i].Host()
			h.Scale(s.momentum, v)
			if err := h.Axpy(1, g, v); err != nil {
				return err
			}
			g = v
		}
		if err := h.Axpy(step, g, p.Host()); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDevice performs one step on the accelerator mirrors.
func (s *SGD) UpdateDevice(acc device.Accelerator, grads, params []*tensor.Buffer, batch int, state *State) error {
	if err := s.check(grads, params, batch, state); err != nil {
		return err
	}
	step := -s.lr / float32(batch)
	for i, p := range params {
		pm, err := p.DeviceMemory()
		if err != nil {
			return err
		}
		g, err := grads[i].DeviceMemory()
		if err != nil {
			return err
		}
		if s.momentum != 0 {
			v, err := state.buffers[i].DeviceMemory()
			if err != nil {
				return err
			}
			if err := acc.Scale(s.momentum, v); err != nil {
				return err
			}
			if err := acc.Axpy(1, g, v); err != nil {
				return err
			}
			g = v
		}
		if err := acc.Axpy(step, g, pm); err != nil {
			return err
		}
	}
	return nil
}
