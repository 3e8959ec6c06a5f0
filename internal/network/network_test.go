package network

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/backend/sim"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/nn"
	"github.com/born-ml/duet/internal/optim"
	"github.com/born-ml/duet/internal/parallel"
	"github.com/born-ml/duet/internal/tensor"
	"github.com/born-ml/duet/internal/train"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHost() *cpu.CPUBackend {
	return cpu.NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 16})
}

// separable returns rows 2-D points labeled by the sign of x0 + x1.
func separable(rows int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := mat.NewDense(rows, 2, nil)
	y := mat.NewDense(rows, 2, nil)
	for i := range rows {
		a, b := rng.Float64()*2-1, rng.Float64()*2-1
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		if a+b > 0 {
			y.Set(i, 0, 1)
		} else {
			y.Set(i, 1, 1)
		}
	}
	return x, y
}

// stripes returns 4×4 single-channel images, bright on the left half for
// class 0 and on the right half for class 1.
func stripes(rows int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := mat.NewDense(rows, 16, nil)
	y := mat.NewDense(rows, 2, nil)
	for i := range rows {
		class := i % 2
		for h := range 4 {
			for w := range 4 {
				v := rng.Float64() * 0.2
				if (w < 2) == (class == 0) {
					v += 0.8
				}
				x.Set(i, h*4+w, v)
			}
		}
		y.Set(i, class, 1)
	}
	return x, y
}

func denseNet(t *testing.T, opts ...Option) *Network {
	t.Helper()
	in, err := nn.NewInput(2)
	require.NoError(t, err)
	dense, err := nn.NewDense(2, 2)
	require.NoError(t, err)
	soft, err := nn.NewSoftmax(2)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(quietLogger()), WithHost(testHost()), WithSeed(42)}, opts...)
	n, err := New([]nn.Layer{in, dense, soft}, nil, opts...)
	require.NoError(t, err)
	return n
}

func convNet(t *testing.T, opts ...Option) *Network {
	t.Helper()
	in, err := nn.NewInput(4, 4, 1)
	require.NoError(t, err)
	conv, err := nn.NewConvolution(nn.ConvSpec{InH: 4, InW: 4, InC: 1, Filters: 2, FilterH: 3, FilterW: 3, Pad: 1, Stride: 1})
	require.NoError(t, err)
	relu, err := nn.NewActivation(nn.ReLU, 32)
	require.NoError(t, err)
	drop, err := nn.NewDropout(0.1, 32)
	require.NoError(t, err)
	dense, err := nn.NewDense(32, 2)
	require.NoError(t, err)
	soft, err := nn.NewSoftmax(2)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(quietLogger()), WithHost(testHost()), WithSeed(7)}, opts...)
	n, err := New([]nn.Layer{in, conv, relu, drop, dense, soft}, nil, opts...)
	require.NoError(t, err)
	return n
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNoLayers)

	dense, err := nn.NewDense(2, 2)
	require.NoError(t, err)
	_, err = New([]nn.Layer{dense}, nil, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrNoInput)

	in, err := nn.NewInput(2)
	require.NoError(t, err)
	_, err = New([]nn.Layer{in, dense, in}, nil, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestAllocate_ShapeMismatch(t *testing.T) {
	in, err := nn.NewInput(3)
	require.NoError(t, err)
	dense, err := nn.NewDense(4, 2)
	require.NoError(t, err)
	n, err := New([]nn.Layer{in, dense}, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.ErrorIs(t, n.Allocate(8), tensor.ErrShapeMismatch)
	assert.ErrorIs(t, n.Allocate(0), tensor.ErrInvalidShape)
}

func TestAllocate_Shapes(t *testing.T) {
	n := convNet(t)
	require.NoError(t, n.Allocate(5))
	dims, err := n.Shapes()
	require.NoError(t, err)
	assert.Equal(t, []int{16, 32, 32, 32, 2, 2}, dims)
	assert.Equal(t, 16, n.Input().Rows())
	assert.Equal(t, 5, n.Output().Cols())
}

func TestPredict(t *testing.T) {
	n := denseNet(t)
	x, _ := separable(7, 1)
	out, err := n.Predict(x)
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 7, r)
	assert.Equal(t, 2, c)
	for i := range r {
		assert.InDelta(t, 1, out.At(i, 0)+out.At(i, 1), 1e-5)
	}

	_, err = n.Predict(mat.NewDense(3, 5, nil))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestPredict_HostMatchesAccelerator(t *testing.T) {
	x, _ := stripes(6, 3)
	host := convNet(t)
	acc := sim.New(sim.Config{WorkspaceLimit: 1, Parallel: parallel.Sequential()})
	defer acc.Release()
	dev := convNet(t, WithAccelerator(acc))
	defer dev.Release()
	assert.Equal(t, "sim", dev.Backend().Name())

	want, err := host.Predict(x)
	require.NoError(t, err)
	got, err := dev.Predict(x)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-5), "host %v\naccelerator %v", mat.Formatted(want), mat.Formatted(got))
}

func TestValidate_MissingSession(t *testing.T) {
	n := denseNet(t)
	_, err := n.Validate(nil)
	assert.ErrorIs(t, err, tensor.ErrMissingSessionState)
}

func TestTrain_RejectsMismatchedData(t *testing.T) {
	n := denseNet(t)
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1})
	opts := train.Options{Epochs: 1, BatchSize: 4}

	_, err := n.Train(mat.NewDense(10, 3, nil), mat.NewDense(10, 2, nil), opt, opts)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = n.Train(mat.NewDense(10, 2, nil), mat.NewDense(10, 3, nil), opt, opts)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = n.Train(mat.NewDense(10, 2, nil), mat.NewDense(9, 2, nil), opt, opts)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func assertLossDecreases(t *testing.T, h *train.History, epochs int) {
	t.Helper()
	require.Len(t, h.Epochs, epochs)
	losses := h.TrainLosses()
	assert.Less(t, losses[epochs-1], losses[0], "train losses %v", losses)
	assert.Less(t, h.Epochs[epochs-1].ValidationLoss, h.Epochs[0].ValidationLoss)
	for i, e := range h.Epochs {
		assert.Equal(t, i+1, e.Epoch)
	}
}

func TestTrain_LossDecreases(t *testing.T) {
	x, y := separable(200, 11)
	opts := train.Options{Epochs: 6, BatchSize: 10, IterationsPerEpoch: 8, ValidationSplit: 0.2, Seed: 5}

	t.Run("Host", func(t *testing.T) {
		n := denseNet(t)
		h, err := n.Train(x, y, optim.NewSGD(optim.SGDConfig{LR: 0.5}), opts)
		require.NoError(t, err)
		assertLossDecreases(t, h, 6)
		assert.False(t, h.Stopped)
		assert.Equal(t, 9, h.Epochs[0].Iterations)
	})

	t.Run("Accelerator", func(t *testing.T) {
		acc := sim.New(sim.Config{Parallel: parallel.Sequential()})
		defer acc.Release()
		n := denseNet(t, WithAccelerator(acc))
		defer n.Release()
		h, err := n.Train(x, y, optim.NewSGD(optim.SGDConfig{LR: 0.5, Momentum: 0.5}), opts)
		require.NoError(t, err)
		assertLossDecreases(t, h, 6)
	})
}

func TestTrain_ConvolutionalNetwork(t *testing.T) {
	x, y := stripes(120, 13)
	opts := train.Options{Epochs: 5, BatchSize: 8, IterationsPerEpoch: 10, ValidationSplit: 0.25, Seed: 3}

	tests := []struct {
		name string
		acc  func() device.Accelerator
	}{
		{"Host", func() device.Accelerator { return nil }},
		{"AcceleratorGemm", func() device.Accelerator {
			return sim.New(sim.Config{Parallel: parallel.Sequential()})
		}},
		{"AcceleratorDirect", func() device.Accelerator {
			return sim.New(sim.Config{WorkspaceLimit: 1, Parallel: parallel.Sequential()})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts2 []Option
			if acc := tt.acc(); acc != nil {
				defer acc.Release()
				opts2 = append(opts2, WithAccelerator(acc))
			}
			n := convNet(t, opts2...)
			defer n.Release()
			h, err := n.Train(x, y, optim.NewSGD(optim.SGDConfig{LR: 0.3, Momentum: 0.5}), opts)
			require.NoError(t, err)
			assertLossDecreases(t, h, 5)

			// Inference disables dropout, so predictions are deterministic.
			p1, err := n.Predict(x)
			require.NoError(t, err)
			p2, err := n.Predict(x)
			require.NoError(t, err)
			assert.True(t, mat.Equal(p1, p2))
		})
	}
}

func TestTrain_EarlyStopping(t *testing.T) {
	x, y := separable(60, 17)
	n := denseNet(t)
	// A zero learning rate never improves on the first validation.
	opt := optim.NewSGD(optim.SGDConfig{LR: 1e-30})
	h, err := n.Train(x, y, opt, train.Options{Epochs: 50, Patience: 2, BatchSize: 6, IterationsPerEpoch: 2, Seed: 1})
	require.NoError(t, err)
	assert.True(t, h.Stopped)
	assert.Len(t, h.Epochs, 3)
	assert.Equal(t, 1, h.BestEpoch)
}

func TestUpdate_StateCount(t *testing.T) {
	n := denseNet(t)
	require.NoError(t, n.Allocate(2))
	err := n.Update(optim.NewSGD(optim.SGDConfig{}), nil, 2)
	assert.ErrorIs(t, err, optim.ErrStateMismatch)
}
