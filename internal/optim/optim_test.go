package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/backend/sim"
	"github.com/born-ml/duet/internal/optim"
	"github.com/born-ml/duet/internal/parallel"
	"github.com/born-ml/duet/internal/tensor"
)

func buffer(t *testing.T, data ...float32) *tensor.Buffer {
	t.Helper()
	b, err := tensor.FromSlice(len(data), 1, data)
	require.NoError(t, err)
	return b
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	h := cpu.New()
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.5})
	param := buffer(t, 2, -1)
	grad := buffer(t, 4, 8)
	params, grads := []*tensor.Buffer{param}, []*tensor.Buffer{grad}
	state := opt.NewState(params)
	assert.Zero(t, state.Len())

	// new = old - (lr/b)*grad with b = 4.
	require.NoError(t, opt.UpdateHost(h, grads, params, 4, state))
	assert.InDeltaSlice(t, []float32{1.5, -2}, param.Host(), 1e-6)
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	h := cpu.New()
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	param := buffer(t, 1)
	grad := buffer(t, 1)
	params, grads := []*tensor.Buffer{param}, []*tensor.Buffer{grad}
	state := opt.NewState(params)
	require.Equal(t, 1, state.Len())

	// v_1 = 1, x_1 = 1 - 0.1 = 0.9
	require.NoError(t, opt.UpdateHost(h, grads, params, 1, state))
	assert.InDelta(t, 0.9, param.Host()[0], 1e-6)

	// v_2 = 0.9 + 1 = 1.9, x_2 = 0.9 - 0.19 = 0.71
	require.NoError(t, opt.UpdateHost(h, grads, params, 1, state))
	assert.InDelta(t, 0.71, param.Host()[0], 1e-5)
	assert.InDelta(t, 1.9, state.Buffer(0).Host()[0], 1e-6)
}

func TestSGD_DeviceMatchesHost(t *testing.T) {
	h := cpu.New()
	acc := sim.New(sim.Config{Parallel: parallel.Sequential()})
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.3, Momentum: 0.5})

	hostParam, devParam := buffer(t, 1, 2, 3), buffer(t, 1, 2, 3)
	grad := buffer(t, 0.5, -1, 2)
	hostState := opt.NewState([]*tensor.Buffer{hostParam})
	devState := opt.NewState([]*tensor.Buffer{devParam})

	for _, b := range []*tensor.Buffer{devParam, grad} {
		require.NoError(t, b.Attach(acc))
		require.NoError(t, b.ToDevice())
	}
	require.NoError(t, devState.Bind(acc))
	defer devState.Release()

	for range 3 {
		require.NoError(t, opt.UpdateHost(h, []*tensor.Buffer{grad}, []*tensor.Buffer{hostParam}, 2, hostState))
		require.NoError(t, opt.UpdateDevice(acc, []*tensor.Buffer{grad}, []*tensor.Buffer{devParam}, 2, devState))
	}
	require.NoError(t, devParam.ToHost())
	assert.InDeltaSlice(t, hostParam.Host(), devParam.Host(), 1e-6)
}

func TestSGD_RejectsMismatchedInputs(t *testing.T) {
	h := cpu.New()
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	params := []*tensor.Buffer{buffer(t, 1, 2)}
	state := opt.NewState(params)

	err := opt.UpdateHost(h, []*tensor.Buffer{buffer(t, 1)}, params, 1, state)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	err = opt.UpdateHost(h, nil, params, 1, state)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	err = opt.UpdateHost(h, []*tensor.Buffer{buffer(t, 1, 2)}, params, 0, state)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)

	other := opt.NewState([]*tensor.Buffer{buffer(t, 1, 2, 3)})
	err = opt.UpdateHost(h, []*tensor.Buffer{buffer(t, 1, 2)}, params, 1, other)
	assert.ErrorIs(t, err, optim.ErrStateMismatch)
}

// TestSGD_GetSetLR tests learning rate getter/setter.
func TestSGD_GetSetLR(t *testing.T) {
	opt := optim.NewSGD(optim.SGDConfig{})
	assert.Equal(t, float32(0.01), opt.GetLR())
	opt.SetLR(0.001)
	assert.Equal(t, float32(0.001), opt.GetLR())

	var _ optim.Optimizer = opt
}
