package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/backend/sim"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/parallel"
	"github.com/born-ml/duet/internal/tensor"
)

func testHost() *cpu.CPUBackend {
	return cpu.NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 3, MinChunkSize: 2})
}

func testSim(limit int) *sim.Accelerator {
	return sim.New(sim.Config{WorkspaceLimit: limit, Parallel: parallel.Sequential()})
}

func randBuffer(rng *rand.Rand, rows, cols int) *tensor.Buffer {
	b := tensor.New(rows, cols)
	for i := range b.Host() {
		b.Host()[i] = rng.Float32()*2 - 1
	}
	return b
}

func onDevice(t *testing.T, acc device.Accelerator, bufs ...*tensor.Buffer) {
	t.Helper()
	for _, b := range bufs {
		require.NoError(t, b.Attach(acc))
		require.NoError(t, b.ToDevice())
	}
}

func toHost(t *testing.T, bufs ...*tensor.Buffer) {
	t.Helper()
	for _, b := range bufs {
		require.NoError(t, b.ToHost())
	}
}

func assertClose(t *testing.T, want, got []float32, tol float64, msg string) {
	t.Helper()
	require.Len(t, got, len(want), msg)
	for i := range want {
		if !assert.InDelta(t, want[i], got[i], tol, "%s[%d]", msg, i) {
			return
		}
	}
}

// checkParity runs l forward and backward on the host, then on acc, and
// compares outputs, input gradients and parameter gradients.
func checkParity(t *testing.T, l Layer, acc device.Accelerator, inDim, batch int, tol float64) {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	h := testHost()

	outDim, err := l.OutputDim(inDim)
	require.NoError(t, err)
	in := randBuffer(rng, inDim, batch)
	gradOut := randBuffer(rng, outDim, batch)

	outH := tensor.New(outDim, batch)
	gradInH := tensor.New(inDim, batch)
	require.NoError(t, l.Resize(batch))
	require.NoError(t, l.ForwardHost(h, in, outH))
	require.NoError(t, l.BackwardHost(h, in, gradOut, gradInH))
	var hostGrads [][]float32
	for _, g := range l.Gradients() {
		hostGrads = append(hostGrads, append([]float32(nil), g.Host()...))
	}

	require.NoError(t, l.Bind(acc))
	defer l.Release()
	outD := tensor.New(outDim, batch)
	gradInD := tensor.New(inDim, batch)
	onDevice(t, acc, in, gradOut, outD, gradInD)
	require.NoError(t, l.ForwardDevice(acc, in, outD))
	require.NoError(t, l.BackwardDevice(acc, in, gradOut, gradInD))
	toHost(t, outD, gradInD)
	toHost(t, l.Gradients()...)

	assertClose(t, outH.Host(), outD.Host(), tol, "forward")
	assertClose(t, gradInH.Host(), gradInD.Host(), tol, "backward")
	for i, g := range l.Gradients() {
		assertClose(t, hostGrads[i], g.Host(), tol, "param grad")
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Convolution", KindConvolution.String())
	assert.Equal(t, "Softmax", KindSoftmax.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestInput_Dimension(t *testing.T) {
	l, err := NewInput(28, 28, 1)
	require.NoError(t, err)
	assert.Equal(t, 784, l.Dim())
	assert.Equal(t, []int{28, 28, 1}, l.Dims())
	assert.Empty(t, l.Parameters())

	_, err = NewInput()
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)
	_, err = NewInput(3, 0)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)
}

func TestDense_Forward(t *testing.T) {
	l, err := NewDense(2, 2)
	require.NoError(t, err)
	// W = [[1 2] [3 4]] column-major, b = [10 20].
	require.NoError(t, l.Weight().CopyFrom([]float32{1, 3, 2, 4}))
	require.NoError(t, l.Bias().CopyFrom([]float32{10, 20}))

	in, err := tensor.FromSlice(2, 2, []float32{1, 1, 2, 0})
	require.NoError(t, err)
	out := tensor.New(2, 2)
	require.NoError(t, l.ForwardHost(testHost(), in, out))
	assert.Equal(t, []float32{13, 27, 12, 26}, out.Host())
}

func TestDense_ShapeMismatch(t *testing.T) {
	l, err := NewDense(3, 2)
	require.NoError(t, err)
	_, err = l.OutputDim(4)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	err = l.ForwardHost(testHost(), tensor.New(4, 2), tensor.New(2, 2))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

// The functional L = Σ gradOut ⊙ out is linear in W, so a central difference
// recovers dL/dW up to float32 rounding.
func TestDense_GradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	h := testHost()
	l, err := NewDense(4, 3)
	require.NoError(t, err)
	Reinitialize(l, rng)

	in := randBuffer(rng, 4, 5)
	gradOut := randBuffer(rng, 3, 5)
	out := tensor.New(3, 5)
	require.NoError(t, l.ForwardHost(h, in, out))
	require.NoError(t, l.BackwardHost(h, in, gradOut, tensor.New(4, 5)))

	objective := func() float64 {
		require.NoError(t, l.ForwardHost(h, in, out))
		var s float64
		for i, v := range out.Host() {
			s += float64(v) * float64(gradOut.Host()[i])
		}
		return s
	}
	const eps = 1e-2
	for _, pair := range [][2]*tensor.Buffer{{l.Weight(), l.dW}, {l.Bias(), l.db}} {
		p, g := pair[0].Host(), pair[1].Host()
		for i := range p {
			orig := p[i]
			p[i] = orig + eps
			plus := objective()
			p[i] = orig - eps
			minus := objective()
			p[i] = orig
			assert.InDelta(t, float64(g[i]), (plus-minus)/(2*eps), 1e-3, "param %d", i)
		}
	}
}

func TestDense_HostDeviceParity(t *testing.T) {
	l, err := NewDense(6, 4)
	require.NoError(t, err)
	checkParity(t, l, testSim(0), 6, 5, 1e-5)
}

func TestActivation_ReLU(t *testing.T) {
	l, err := NewActivation(ReLU, 2)
	require.NoError(t, err)
	h := testHost()
	in, _ := tensor.FromSlice(2, 2, []float32{-1, 2, 3, -4})
	out := tensor.New(2, 2)
	require.NoError(t, l.ForwardHost(h, in, out))
	assert.Equal(t, []float32{0, 2, 3, 0}, out.Host())

	gradOut, _ := tensor.FromSlice(2, 2, []float32{5, 6, 7, 8})
	gradIn := tensor.New(2, 2)
	require.NoError(t, l.BackwardHost(h, in, gradOut, gradIn))
	assert.Equal(t, []float32{0, 6, 7, 0}, gradIn.Host())

	checkParity(t, l, testSim(0), 2, 7, 0)
}

func TestDropout(t *testing.T) {
	_, err := NewDropout(1, 4)
	assert.ErrorIs(t, err, device.ErrBadArgument)

	h := testHost()
	l, err := NewDropout(0.5, 100)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 2))
	in := randBuffer(rng, 100, 10)
	out := tensor.New(100, 10)

	t.Run("TrainingMasks", func(t *testing.T) {
		require.NoError(t, l.ForwardHost(h, in, out))
		zeros := 0
		for i, v := range out.Host() {
			if v == 0 {
				zeros++
				continue
			}
			assert.InDelta(t, 2*in.Host()[i], v, 1e-6)
		}
		assert.InDelta(t, 500, zeros, 80)

		gradOut := randBuffer(rng, 100, 10)
		gradIn := tensor.New(100, 10)
		require.NoError(t, l.BackwardHost(h, in, gradOut, gradIn))
		for i := range gradIn.Host() {
			if out.Host()[i] == 0 {
				assert.Zero(t, gradIn.Host()[i])
			} else {
				assert.InDelta(t, 2*gradOut.Host()[i], gradIn.Host()[i], 1e-6)
			}
		}
	})

	t.Run("InferenceIsIdentity", func(t *testing.T) {
		l.SetTraining(false)
		defer l.SetTraining(true)
		require.NoError(t, l.ForwardHost(h, in, out))
		assert.Equal(t, in.Host(), out.Host())
		checkParity(t, l, testSim(0), 100, 10, 0)
	})
}

func TestDropout_DeviceReusesMask(t *testing.T) {
	acc := testSim(0)
	l, err := NewDropout(0.25, 8)
	require.NoError(t, err)
	require.NoError(t, l.Bind(acc))
	defer l.Release()

	in := tensor.New(8, 4)
	for i := range in.Host() {
		in.Host()[i] = 1
	}
	out, gradIn := tensor.New(8, 4), tensor.New(8, 4)
	onDevice(t, acc, in, out, gradIn)
	require.NoError(t, l.ForwardDevice(acc, in, out))
	require.NoError(t, l.BackwardDevice(acc, in, in, gradIn))
	toHost(t, out, gradIn)
	assert.Equal(t, out.Host(), gradIn.Host())
	for _, v := range out.Host() {
		assert.Contains(t, []float32{0, 1 / 0.75}, v)
	}
}

func TestSoftmax(t *testing.T) {
	l, err := NewSoftmax(5)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(9, 9))
	in := randBuffer(rng, 5, 6)
	for i := range in.Host() {
		in.Host()[i] *= 20
	}
	out := tensor.New(5, 6)
	require.NoError(t, l.ForwardHost(testHost(), in, out))
	for c := 0; c < 6; c++ {
		var s float64
		for _, v := range out.Col(c) {
			assert.Positive(t, v)
			s += float64(v)
		}
		assert.InDelta(t, 1, s, 1e-5)
	}
	checkParity(t, l, testSim(0), 5, 6, 1e-5)
}

func TestSoftmax_LargeLogits(t *testing.T) {
	l, err := NewSoftmax(2)
	require.NoError(t, err)
	// 200 sits far enough above the column mean to overflow exp without
	// the max shift.
	in := mustBuffer(t, 2, 2, 0, 200, -150, -149)
	want := tensor.New(2, 2)
	require.NoError(t, l.ForwardHost(testHost(), in, want))
	assert.InDeltaSlice(t, []float32{0, 1}, want.Col(0), 1e-6)

	acc := testSim(0)
	require.NoError(t, l.Bind(acc))
	defer l.Release()
	got := tensor.New(2, 2)
	onDevice(t, acc, in, got)
	require.NoError(t, l.ForwardDevice(acc, in, got))
	toHost(t, got)
	assertClose(t, want.Host(), got.Host(), 1e-6, "softmax")

	ce := NewCrossEntropy()
	defer ce.Release()
	target := mustBuffer(t, 2, 2, 0, 1, 0, 1)
	onDevice(t, acc, target)
	_, err = ce.LossDevice(acc, got, target)
	assert.NoError(t, err)
}

func TestConvolution_InvalidShape(t *testing.T) {
	tests := []struct {
		name string
		spec ConvSpec
	}{
		{"NotDivisible", ConvSpec{InH: 5, InW: 5, InC: 1, Filters: 1, FilterH: 2, FilterW: 2, Stride: 2}},
		{"FilterTooLarge", ConvSpec{InH: 2, InW: 2, InC: 1, Filters: 1, FilterH: 3, FilterW: 3, Stride: 1}},
		{"ZeroStride", ConvSpec{InH: 4, InW: 4, InC: 1, Filters: 1, FilterH: 2, FilterW: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConvolution(tt.spec)
			assert.ErrorIs(t, err, tensor.ErrInvalidShape)
		})
	}
}

func TestConvolution_OutputShape(t *testing.T) {
	l, err := NewConvolution(ConvSpec{InH: 28, InW: 28, InC: 1, Filters: 8, FilterH: 5, FilterW: 5, Pad: 2, Stride: 1})
	require.NoError(t, err)
	h, w := l.OutputShape()
	assert.Equal(t, 28, h)
	assert.Equal(t, 28, w)
	dim, err := l.OutputDim(784)
	require.NoError(t, err)
	assert.Equal(t, 28*28*8, dim)
	assert.Equal(t, 8, l.Weight().Rows())
	assert.Equal(t, 25, l.Weight().Cols())
}

func TestConvolution_HostDeviceParity(t *testing.T) {
	spec := ConvSpec{InH: 6, InW: 5, InC: 2, Filters: 3, FilterH: 3, FilterW: 3, Pad: 1, Stride: 1}
	tests := []struct {
		name  string
		limit int
		want  device.Algo
	}{
		{"Gemm", 0, device.AlgoGemm},
		{"Direct", 1, device.AlgoDirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewConvolution(spec)
			require.NoError(t, err)
			checkParity(t, l, testSim(tt.limit), 60, 3, 1e-4)

			fwd, bwdFilter, bwdData := l.Algorithms()
			assert.Equal(t, tt.want, fwd)
			assert.Equal(t, tt.want, bwdFilter)
			assert.Equal(t, tt.want, bwdData)
		})
	}
}

func TestConvolution_ResizeRebuildsWorkspaces(t *testing.T) {
	acc := testSim(0)
	l, err := NewConvolution(ConvSpec{InH: 4, InW: 4, InC: 1, Filters: 2, FilterH: 2, FilterW: 2, Stride: 2})
	require.NoError(t, err)
	require.NoError(t, l.Bind(acc))
	require.NoError(t, l.Resize(2))
	live := acc.Live()
	require.NoError(t, l.Resize(2))
	assert.Equal(t, live, acc.Live())

	require.NoError(t, l.Resize(5))
	assert.Equal(t, live, acc.Live())
	assert.Equal(t, 4*4*5, l.fwdWS.Len())

	l.Release()
	assert.Zero(t, acc.Live())
}

func TestConvolution_BackwardIsGradient(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 4))
	h := testHost()
	l, err := NewConvolution(ConvSpec{InH: 4, InW: 4, InC: 2, Filters: 2, FilterH: 3, FilterW: 3, Pad: 1, Stride: 1})
	require.NoError(t, err)
	in := randBuffer(rng, 32, 2)
	outDim, _ := l.OutputDim(32)
	gradOut := randBuffer(rng, outDim, 2)
	out := tensor.New(outDim, 2)
	gradIn := tensor.New(32, 2)
	require.NoError(t, l.ForwardHost(h, in, out))
	require.NoError(t, l.BackwardHost(h, in, gradOut, gradIn))

	objective := func() float64 {
		require.NoError(t, l.ForwardHost(h, in, out))
		var s float64
		for i, v := range out.Host() {
			s += float64(v) * float64(gradOut.Host()[i])
		}
		return s
	}
	const eps = 1e-2
	for _, pair := range [][2][]float32{{l.Weight().Host(), l.dW.Host()}, {in.Host(), gradIn.Host()}} {
		p, g := pair[0], pair[1]
		for i := 0; i < len(p); i += 3 {
			orig := p[i]
			p[i] = orig + eps
			plus := objective()
			p[i] = orig - eps
			minus := objective()
			p[i] = orig
			assert.InDelta(t, float64(g[i]), (plus-minus)/(2*eps), 2e-3, "element %d", i)
		}
	}
}

func TestXavier_Bound(t *testing.T) {
	b := tensor.New(30, 20)
	Xavier(rand.New(rand.NewPCG(1, 1)), 20, 30, b)
	bound := math.Sqrt(6.0 / 50.0)
	nonZero := 0
	for _, v := range b.Host() {
		assert.LessOrEqual(t, math.Abs(float64(v)), bound)
		if v != 0 {
			nonZero++
		}
	}
	assert.Equal(t, b.Len(), nonZero)
}
