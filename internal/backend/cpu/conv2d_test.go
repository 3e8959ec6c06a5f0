package cpu

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/duet/internal/device"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// TestConv2D_BasicForward tests a single-channel 3x3 image against a 2x2
// diagonal kernel.
func TestConv2D_BasicForward(t *testing.T) {
	backend := newTestBackend()

	// 1 2 3
	// 4 5 6
	// 7 8 9
	x := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	w := []float32{1, 0, 0, 1}

	xd := device.TensorDesc{N: 1, C: 1, H: 3, W: 3}
	wd := device.FilterDesc{K: 1, C: 1, H: 2, W: 2}
	conv := device.ConvDesc{StrideH: 1, StrideW: 1}
	yd, err := device.OutputDesc(xd, wd, conv)
	require.NoError(t, err)
	assert.Equal(t, device.TensorDesc{N: 1, C: 1, H: 2, W: 2}, yd)

	y := make([]float32, yd.Len())
	col := make([]float32, ColLen(wd, yd))
	require.NoError(t, backend.ConvForward(1, xd, x, wd, w, conv, col, 0, yd, y))
	assert.Equal(t, []float32{6, 8, 12, 14}, y)
}

// TestConv2D_PaddingAndChannels checks the NHWC/HWIO layout with two input
// channels, two filters, padding and stride.
func TestConv2D_PaddingAndChannels(t *testing.T) {
	backend := newTestBackend()
	rng := rand.New(rand.NewPCG(7, 7))

	xd := device.TensorDesc{N: 2, C: 2, H: 5, W: 5}
	wd := device.FilterDesc{K: 3, C: 2, H: 3, W: 3}
	conv := device.ConvDesc{PadH: 1, PadW: 1, StrideH: 2, StrideW: 2}
	yd, err := device.OutputDesc(xd, wd, conv)
	require.NoError(t, err)
	require.Equal(t, 3, yd.H)

	x := randSlice(rng, xd.Len())
	w := randSlice(rng, wd.Len())
	y := make([]float32, yd.Len())
	require.NoError(t, backend.ConvForward(1, xd, x, wd, w, conv, make([]float32, ColLen(wd, yd)), 0, yd, y))

	for n := 0; n < yd.N; n++ {
		for oh := 0; oh < yd.H; oh++ {
			for ow := 0; ow < yd.W; ow++ {
				for k := 0; k < wd.K; k++ {
					var want float32
					for fh := 0; fh < wd.H; fh++ {
						for fw := 0; fw < wd.W; fw++ {
							ih, iw := oh*2-1+fh, ow*2-1+fw
							if ih < 0 || ih >= xd.H || iw < 0 || iw >= xd.W {
								continue
							}
							for c := 0; c < xd.C; c++ {
								xv := x[n*xd.H*xd.W*xd.C+(ih*xd.W+iw)*xd.C+c]
								wv := w[k+wd.K*((fh*wd.W+fw)*wd.C+c)]
								want += xv * wv
							}
						}
					}
					got := y[n*yd.H*yd.W*yd.C+(oh*yd.W+ow)*yd.C+k]
					assert.InDelta(t, want, got, 1e-5)
				}
			}
		}
	}
}

// TestConv2D_BackwardIsAdjoint verifies ⟨conv(x,w), g⟩ equals both ⟨w, dW⟩ and
// ⟨x, dX⟩, which pins the backward passes to the forward.
func TestConv2D_BackwardIsAdjoint(t *testing.T) {
	backend := newTestBackend()
	rng := rand.New(rand.NewPCG(3, 9))

	xd := device.TensorDesc{N: 3, C: 2, H: 6, W: 6}
	wd := device.FilterDesc{K: 4, C: 2, H: 3, W: 3}
	conv := device.ConvDesc{PadH: 1, PadW: 1, StrideH: 1, StrideW: 1}
	yd, err := device.OutputDesc(xd, wd, conv)
	require.NoError(t, err)

	x := randSlice(rng, xd.Len())
	w := randSlice(rng, wd.Len())
	g := randSlice(rng, yd.Len())
	col := make([]float32, ColLen(wd, yd))

	y := make([]float32, yd.Len())
	require.NoError(t, backend.ConvForward(1, xd, x, wd, w, conv, col, 0, yd, y))
	inner := dot(y, g)

	dw := make([]float32, wd.Len())
	require.NoError(t, backend.ConvBackwardFilter(1, xd, x, yd, g, conv, col, false, 0, wd, dw))
	assert.InDelta(t, inner, dot(w, dw), 1e-3)

	dx := randSlice(rng, xd.Len())
	require.NoError(t, backend.ConvBackwardData(1, wd, w, yd, g, conv, col, 0, xd, dx))
	assert.InDelta(t, inner, dot(x, dx), 1e-3)
}

func TestConv2D_BetaAccumulates(t *testing.T) {
	backend := newTestBackend()
	xd := device.TensorDesc{N: 1, C: 1, H: 2, W: 2}
	wd := device.FilterDesc{K: 1, C: 1, H: 1, W: 1}
	conv := device.ConvDesc{StrideH: 1, StrideW: 1}
	yd, err := device.OutputDesc(xd, wd, conv)
	require.NoError(t, err)

	y := []float32{1, 1, 1, 1}
	require.NoError(t, backend.ConvForward(1, xd, []float32{1, 2, 3, 4}, wd, []float32{2}, conv,
		make([]float32, ColLen(wd, yd)), 1, yd, y))
	assert.Equal(t, []float32{3, 5, 7, 9}, y)
}

func TestOutputSize_Invalid(t *testing.T) {
	_, err := device.OutputSize(5, 2, 0, 2)
	assert.ErrorIs(t, err, device.ErrBadArgument)

	_, err = device.OutputSize(2, 3, 0, 1)
	assert.ErrorIs(t, err, device.ErrBadArgument)

	n, err := device.OutputSize(28, 5, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 28, n)
}
