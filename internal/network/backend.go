package network

import (
	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/nn"
	"github.com/born-ml/duet/internal/optim"
	"github.com/born-ml/duet/internal/tensor"
)

// Backend executes layers, the loss and the optimizer on one kind of memory.
// A network picks its backend once, at construction.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Bind prepares a layer for this backend.
	Bind(l nn.Layer) error

	// BindState prepares optimizer helper state for this backend.
	BindState(st *optim.State) error

	// Attach prepares network-owned buffers for this backend.
	Attach(bufs ...*tensor.Buffer) error

	// Load makes host writes to b visible to the backend.
	Load(b *tensor.Buffer) error

	// Fetch makes backend writes to b visible on the host.
	Fetch(b *tensor.Buffer) error

	Forward(l nn.Layer, in, out *tensor.Buffer) error
	Backward(l nn.Layer, in, gradOut, gradIn *tensor.Buffer) error
	Loss(ce *nn.CrossEntropy, pred, target *tensor.Buffer) (float64, error)
	LossGrad(ce *nn.CrossEntropy, grad, pred, target *tensor.Buffer) error
	Update(opt optim.Optimizer, grads, params []*tensor.Buffer, batch int, st *optim.State) error
}

// hostBackend runs everything on host arrays.
type hostBackend struct {
	h *cpu.CPUBackend
}

func (b hostBackend) Name() string                 { return b.h.Name() }
func (hostBackend) Bind(nn.Layer) error            { return nil }
func (hostBackend) BindState(*optim.State) error   { return nil }
func (hostBackend) Attach(...*tensor.Buffer) error { return nil }
func (hostBackend) Load(*tensor.Buffer) error      { return nil }
func (hostBackend) Fetch(*tensor.Buffer) error     { return nil }

func (b hostBackend) Forward(l nn.Layer, in, out *tensor.Buffer) error {
	return l.ForwardHost(b.h, in, out)
}

func (b hostBackend) Backward(l nn.Layer, in, gradOut, gradIn *tensor.Buffer) error {
	return l.BackwardHost(b.h, in, gradOut, gradIn)
}

func (b hostBackend) Loss(ce *nn.CrossEntropy, pred, target *tensor.Buffer) (float64, error) {
	return ce.Loss(b.h, pred, target)
}

func (b hostBackend) LossGrad(ce *nn.CrossEntropy, grad, pred, target *tensor.Buffer) error {
	return ce.Grad(b.h, grad, pred, target)
}

func (b hostBackend) Update(opt optim.Optimizer, grads, params []*tensor.Buffer, batch int, st *optim.State) error {
	return opt.UpdateHost(b.h, grads, params, batch, st)
}

// accelBackend runs everything on accelerator mirrors. Host arrays only
// move at Load and Fetch.
type accelBackend struct {
	acc device.Accelerator
}

func (b accelBackend) Name() string { return b.acc.Name() }

func (b accelBackend) Bind(l nn.Layer) error { return l.Bind(b.acc) }

func (b accelBackend) BindState(st *optim.State) error { return st.Bind(b.acc) }

func (b accelBackend) Attach(bufs ...*tensor.Buffer) error {
	for _, buf := range bufs {
		if err := buf.Attach(b.acc); err != nil {
			return err
		}
	}
	return nil
}

func (accelBackend) Load(buf *tensor.Buffer) error  { return buf.ToDevice() }
func (accelBackend) Fetch(buf *tensor.Buffer) error { return buf.ToHost() }

func (b accelBackend) Forward(l nn.Layer, in, out *tensor.Buffer) error {
	return l.ForwardDevice(b.acc, in, out)
}

func (b accelBackend) Backward(l nn.Layer, in, gradOut, gradIn *tensor.Buffer) error {
	return l.BackwardDevice(b.acc, in, gradOut, gradIn)
}

func (b accelBackend) Loss(ce *nn.CrossEntropy, pred, target *tensor.Buffer) (float64, error) {
	return ce.LossDevice(b.acc, pred, target)
}

func (b accelBackend) LossGrad(ce *nn.CrossEntropy, grad, pred, target *tensor.Buffer) error {
	return ce.GradDevice(b.acc, grad, pred, target)
}

func (b accelBackend) Update(opt optim.Optimizer, grads, params []*tensor.Buffer, batch int, st *optim.State) error {
	return opt.UpdateDevice(b.acc, grads, params, batch, st)
}
