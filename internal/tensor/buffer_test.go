package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/backend/sim"
	"github.com/born-ml/duet/internal/parallel"
	"github.com/born-ml/duet/internal/tensor"
)

func TestBuffer_ColumnMajor(t *testing.T) {
	b, err := tensor.FromSlice(2, 3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, float32(4), b.At(1, 1))
	assert.Equal(t, []float32{5, 6}, b.Col(2))

	b.Set(0, 2, 9)
	assert.Equal(t, float32(9), b.Host()[4])

	_, err = tensor.FromSlice(2, 2, []float32{1, 2, 3})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestBuffer_DenseRoundTrip(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := tensor.FromDense(m)
	assert.Equal(t, 3, b.Rows())
	assert.Equal(t, 2, b.Cols())
	assert.Equal(t, []float32{1, 2, 3}, b.Col(0))
	assert.True(t, mat.Equal(m, b.Dense()))

	var se *tensor.ShapeError
	err := b.CopyFromDense(mat.NewDense(3, 2, nil))
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestBuffer_DeviceMirror(t *testing.T) {
	acc := sim.New(sim.Config{Parallel: parallel.Sequential()})
	defer acc.Release()

	b, err := tensor.FromSlice(2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.ErrorIs(t, b.ToDevice(), tensor.ErrUnsupportedBackend)
	_, err = b.DeviceMemory()
	assert.ErrorIs(t, err, tensor.ErrUnsupportedBackend)

	require.NoError(t, b.Attach(acc))
	assert.True(t, b.HasDevice())
	assert.Contains(t, b.String(), "host+sim")
	require.NoError(t, b.ToDevice())

	// Host and device copies are independent until transferred.
	b.Zero()
	require.NoError(t, b.ToHost())
	assert.Equal(t, []float32{1, 2, 3, 4}, b.Host())

	require.NoError(t, b.Resize(3, 1))
	assert.True(t, b.HasDevice())
	assert.Equal(t, 3, b.Len())

	b.Release()
	assert.False(t, b.HasDevice())
	assert.Equal(t, "Buffer(3x1, host)", b.String())
}

func TestCheckShape(t *testing.T) {
	b := tensor.New(4, 2)
	assert.NoError(t, tensor.CheckShape("op", b, 4, -1))
	assert.NoError(t, tensor.CheckShape("op", b, -1, 2))
	err := tensor.CheckShape("op", b, 3, 2)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.EqualError(t, err, "op: got 4x2, want 3×2")
	assert.ErrorIs(t, tensor.CheckSameShape("op", tensor.New(2, 4), b), tensor.ErrShapeMismatch)
}
