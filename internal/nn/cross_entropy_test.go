package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/duet/internal/tensor"
)

func mustBuffer(t *testing.T, rows, cols int, data ...float32) *tensor.Buffer {
	t.Helper()
	b, err := tensor.FromSlice(rows, cols, data)
	require.NoError(t, err)
	return b
}

func TestCrossEntropy_Loss(t *testing.T) {
	h := testHost()
	ce := NewCrossEntropy()

	t.Run("UniformIsLnK", func(t *testing.T) {
		pred := mustBuffer(t, 4, 3, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25)
		target := mustBuffer(t, 4, 3, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 1)
		loss, err := ce.Loss(h, pred, target)
		require.NoError(t, err)
		assert.InDelta(t, 3*math.Log(4), loss, 1e-6)
	})

	t.Run("NegativeLogOfHotClass", func(t *testing.T) {
		pred := mustBuffer(t, 3, 1, 0.7, 0.2, 0.1)
		target := mustBuffer(t, 3, 1, 1, 0, 0)
		loss, err := ce.Loss(h, pred, target)
		require.NoError(t, err)
		assert.InDelta(t, -math.Log(0.7), loss, 1e-6)
	})

	t.Run("InvalidDistribution", func(t *testing.T) {
		pred := mustBuffer(t, 3, 2, 0.7, 0.2, 0.1, 0.5, 0.2, 0.1)
		target := mustBuffer(t, 3, 2, 1, 0, 0, 1, 0, 0)
		_, err := ce.Loss(h, pred, target)
		assert.ErrorIs(t, err, tensor.ErrInvalidDistribution)
	})

	t.Run("NaNColumn", func(t *testing.T) {
		nan := float32(math.NaN())
		pred := mustBuffer(t, 2, 2, nan, 1, 0.5, 0.5)
		target := mustBuffer(t, 2, 2, 0, 1, 1, 0)
		_, err := ce.Loss(h, pred, target)
		assert.ErrorIs(t, err, tensor.ErrInvalidDistribution)
	})

	t.Run("InfiniteColumn", func(t *testing.T) {
		pred := mustBuffer(t, 2, 1, float32(math.Inf(1)), 0)
		target := mustBuffer(t, 2, 1, 1, 0)
		_, err := ce.Loss(h, pred, target)
		assert.ErrorIs(t, err, tensor.ErrInvalidDistribution)
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		_, err := ce.Loss(h, tensor.New(3, 2), tensor.New(2, 3))
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	})
}

func TestCrossEntropy_Grad(t *testing.T) {
	ce := NewCrossEntropy()
	pred := mustBuffer(t, 3, 1, 0.7, 0.2, 0.1)
	target := mustBuffer(t, 3, 1, 0, 1, 0)
	grad := tensor.New(3, 1)
	require.NoError(t, ce.Grad(testHost(), grad, pred, target))
	assertClose(t, []float32{0.7, -0.8, 0.1}, grad.Host(), 1e-6, "grad")

	assert.ErrorIs(t, ce.Grad(testHost(), tensor.New(2, 1), pred, target), tensor.ErrShapeMismatch)
}

func TestCrossEntropy_Device(t *testing.T) {
	acc := testSim(0)
	ce := NewCrossEntropy()
	defer ce.Release()

	pred := mustBuffer(t, 3, 2, 0.7, 0.2, 0.1, 0.3, 0.3, 0.4)
	target := mustBuffer(t, 3, 2, 1, 0, 0, 0, 0, 1)
	grad := tensor.New(3, 2)
	onDevice(t, acc, pred, target, grad)

	loss, err := ce.LossDevice(acc, pred, target)
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(0.7)-math.Log(0.4), loss, 1e-5)

	require.NoError(t, ce.GradDevice(acc, grad, pred, target))
	toHost(t, grad)
	assertClose(t, []float32{-0.3, 0.2, 0.1, 0.3, 0.3, -0.6}, grad.Host(), 1e-6, "grad")

	bad := mustBuffer(t, 3, 2, 0.9, 0.9, 0.9, 0.3, 0.3, 0.4)
	onDevice(t, acc, bad)
	_, err = ce.LossDevice(acc, bad, target)
	assert.ErrorIs(t, err, tensor.ErrInvalidDistribution)

	nan := mustBuffer(t, 3, 2, float32(math.NaN()), 0.5, 0.5, 0.3, 0.3, 0.4)
	onDevice(t, acc, nan)
	_, err = ce.LossDevice(acc, nan, target)
	assert.ErrorIs(t, err, tensor.ErrInvalidDistribution)
}
