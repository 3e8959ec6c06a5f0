package checkpoint

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/backend/sim"
	"github.com/born-ml/duet/internal/dataset"
	"github.com/born-ml/duet/internal/network"
	"github.com/born-ml/duet/internal/nn"
	"github.com/born-ml/duet/internal/parallel"
)

func layers(t *testing.T) []nn.Layer {
	t.Helper()
	in, err := nn.NewInput(4, 4, 2)
	require.NoError(t, err)
	conv, err := nn.NewConvolution(nn.ConvSpec{InH: 4, InW: 4, InC: 2, Filters: 3, FilterH: 3, FilterW: 2, Pad: 1, Stride: 1})
	require.NoError(t, err)
	oh, ow := conv.OutputShape()
	relu, err := nn.NewActivation(nn.ReLU, oh*ow*3)
	require.NoError(t, err)
	drop, err := nn.NewDropout(0.5, oh*ow*3)
	require.NoError(t, err)
	dense, err := nn.NewDense(oh*ow*3, 2)
	require.NoError(t, err)
	soft, err := nn.NewSoftmax(2)
	require.NoError(t, err)
	return []nn.Layer{in, conv, relu, drop, dense, soft}
}

func newNetwork(t *testing.T, ls []nn.Layer, opts ...network.Option) *network.Network {
	t.Helper()
	opts = append(opts, network.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	n, err := network.New(ls, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(n.Release)
	return n
}

func TestExport_Graph(t *testing.T) {
	m, err := Export(layers(t))
	require.NoError(t, err)

	decoded, err := Unmarshal(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, int64(irVersion), decoded.IRVersion)
	assert.Equal(t, ProducerName, decoded.ProducerName)
	require.Len(t, decoded.OpsetImport, 1)
	assert.Equal(t, int64(opset), decoded.OpsetImport[0].Version)

	g := decoded.Graph
	require.NotNil(t, g)
	var ops []string
	for _, n := range g.Nodes {
		ops = append(ops, n.OpType)
	}
	assert.Equal(t, []string{"Reshape", "Transpose", "Conv", "Transpose", "Reshape", "Relu", "Identity", "Gemm", "Softmax"}, ops)

	conv := g.Nodes[2]
	assert.Equal(t, "layer1", conv.Name)
	require.Len(t, conv.Attributes, 3)
	assert.Equal(t, []int64{3, 2}, conv.Attributes[0].Ints)
	assert.Equal(t, []int64{1, 1, 1, 1}, conv.Attributes[1].Ints)
	assert.Equal(t, int64(1), g.Nodes[7].Attributes[0].I)

	require.Len(t, g.Inputs, 1)
	assert.Equal(t, "input", g.Inputs[0].Name)
	assert.Equal(t, []DimensionProto{{DimParam: "batch"}, {DimValue: 32}}, g.Inputs[0].Shape)
	require.Len(t, g.Outputs, 1)
	assert.Equal(t, "layer5", g.Outputs[0].Name)

	byName := map[string]TensorProto{}
	for _, init := range g.Initializers {
		byName[init.Name] = init
	}
	assert.Equal(t, []int64{3, 2, 3, 2}, byName["layer1.weight"].Dims)
	assert.Equal(t, []int64{-1, 4, 4, 2}, byName["layer1.shape_in"].Int64Data)
	assert.Equal(t, []int64{2, 5 * 4 * 3}, byName["layer4.weight"].Dims)
}

func TestDenseLayout(t *testing.T) {
	d, err := nn.NewDense(3, 2)
	require.NoError(t, err)
	// Column-major [2, 3]: rows are (1 2 3) and (4 5 6).
	require.NoError(t, d.Weight().CopyFrom([]float32{1, 4, 2, 5, 3, 6}))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, denseToONNX(d.Weight()))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	data := dataset.Stripes(6, 4, 8, 0.2, 1)
	x := mat.NewDense(6, 32, nil)
	x.Copy(data.Features)

	src := newNetwork(t, layers(t), network.WithSeed(1))
	want, err := src.Predict(x)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, src.Layers()))

	t.Run("Host", func(t *testing.T) {
		dst := newNetwork(t, layers(t), network.WithSeed(2))
		before, err := dst.Predict(x)
		require.NoError(t, err)
		require.False(t, mat.EqualApprox(want, before, 1e-6))

		require.NoError(t, Load(bytes.NewReader(buf.Bytes()), dst.Layers()))
		got, err := dst.Predict(x)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(want, got, 1e-6))
	})

	t.Run("Accelerator", func(t *testing.T) {
		acc := sim.New(sim.Config{Parallel: parallel.Sequential()})
		t.Cleanup(acc.Release)
		dst := newNetwork(t, layers(t), network.WithSeed(3), network.WithAccelerator(acc))
		require.NoError(t, Load(bytes.NewReader(buf.Bytes()), dst.Layers()))
		got, err := dst.Predict(x)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(want, got, 1e-5))

		// Export downloads device weights.
		var again bytes.Buffer
		require.NoError(t, Save(&again, dst.Layers()))
		assert.Equal(t, buf.Bytes(), again.Bytes())
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.onnx")
		require.NoError(t, SaveFile(path, src.Layers()))
		dst := newNetwork(t, layers(t), network.WithSeed(4))
		require.NoError(t, LoadFile(path, dst.Layers()))
		got, err := dst.Predict(x)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(want, got, 1e-6))
	})
}

func TestLoad_Errors(t *testing.T) {
	src := layers(t)
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, src))

	t.Run("Garbage", func(t *testing.T) {
		err := Load(bytes.NewReader([]byte{0x0a, 0xff}), layers(t))
		assert.ErrorIs(t, err, ErrFormat)
	})
	t.Run("NoGraph", func(t *testing.T) {
		err := Load(bytes.NewReader((&ModelProto{IRVersion: 7}).Marshal()), layers(t))
		assert.ErrorIs(t, err, ErrFormat)
	})
	t.Run("WrongShape", func(t *testing.T) {
		in, err := nn.NewInput(4, 4, 2)
		require.NoError(t, err)
		conv, err := nn.NewConvolution(nn.ConvSpec{InH: 4, InW: 4, InC: 2, Filters: 4, FilterH: 3, FilterW: 2, Pad: 1, Stride: 1})
		require.NoError(t, err)
		err = Load(bytes.NewReader(buf.Bytes()), []nn.Layer{in, conv})
		assert.ErrorIs(t, err, ErrMismatch)
	})
	t.Run("MissingLayer", func(t *testing.T) {
		in, err := nn.NewInput(2)
		require.NoError(t, err)
		d1, err := nn.NewDense(2, 2)
		require.NoError(t, err)
		d2, err := nn.NewDense(2, 2)
		require.NoError(t, err)
		d3, err := nn.NewDense(2, 2)
		require.NoError(t, err)
		err = Load(bytes.NewReader(buf.Bytes()), []nn.Layer{in, d1, d2, d3})
		assert.ErrorIs(t, err, ErrMismatch)
	})
	t.Run("FailureLeavesLayersUnchanged", func(t *testing.T) {
		in, err := nn.NewInput(2)
		require.NoError(t, err)
		d1, err := nn.NewDense(2, 2)
		require.NoError(t, err)
		d2, err := nn.NewDense(2, 2)
		require.NoError(t, err)
		var small bytes.Buffer
		require.NoError(t, Save(&small, []nn.Layer{in, d1, d2}))

		// The first Dense matches, the second has the wrong output size.
		e1, err := nn.NewDense(2, 2)
		require.NoError(t, err)
		e2, err := nn.NewDense(2, 3)
		require.NoError(t, err)
		before := append([]float32(nil), e1.Weight().Host()...)
		err = Load(bytes.NewReader(small.Bytes()), []nn.Layer{in, e1, e2})
		assert.ErrorIs(t, err, ErrMismatch)
		assert.Equal(t, before, e1.Weight().Host())
	})
	t.Run("NoInput", func(t *testing.T) {
		_, err := Export(src[1:])
		assert.ErrorIs(t, err, ErrMismatch)
	})
}
