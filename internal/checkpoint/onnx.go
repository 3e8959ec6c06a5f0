// Package checkpoint saves and restores network weights as ONNX models.
//
// Export writes the layer chain as an opset 13 graph whose initializers hold
// the trained weights, so the file also runs in any ONNX runtime:
//
//	Dense        -> Gemm (transB = 1)
//	Convolution  -> Reshape, Transpose (NHWC to NCHW), Conv, Transpose, Reshape
//	Activation   -> Relu
//	Dropout      -> Identity
//	Softmax      -> Softmax (axis = 1)
//
// Weights are converted to ONNX layouts on export (row-major [out, in] for
// Gemm, OIHW for Conv) and back on import.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/duet/internal/nn"
	"github.com/born-ml/duet/internal/tensor"
)

// Errors returned by Load.
var (
	ErrFormat   = errors.New("checkpoint: malformed ONNX model")
	ErrMismatch = errors.New("checkpoint: model does not match network")
)

// ProducerName is recorded in exported models.
const ProducerName = "duet"

// Export builds an ONNX model from layers. Parameters mirrored on an
// accelerator are downloaded first.
func Export(layers []nn.Layer) (*ModelProto, error) {
	if len(layers) == 0 || layers[0].Kind() != nn.KindInput {
		return nil, fmt.Errorf("checkpoint: first layer must be Input: %w", ErrMismatch)
	}
	dim, _ := layers[0].OutputDim(0)
	g := &GraphProto{
		Name:   "duet",
		Inputs: []ValueInfoProto{batchInfo("input", dim)},
	}
	cur := "input"
	for i, l := range layers[1:] {
		idx := i + 1
		out, err := l.OutputDim(dim)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: layer %d: %w", idx, err)
		}
		for _, p := range l.Parameters() {
			if p.HasDevice() {
				if err := p.ToHost(); err != nil {
					return nil, err
				}
			}
		}
		name := fmt.Sprintf("layer%d", idx)
		switch l := l.(type) {
		case *nn.Dense:
			g.Initializers = append(g.Initializers,
				floatTensor(name+".weight", []int64{int64(out), int64(dim)}, denseToONNX(l.Weight())),
				floatTensor(name+".bias", []int64{int64(out)}, l.Bias().Host()),
			)
			g.Nodes = append(g.Nodes, NodeProto{
				Name: name, OpType: "Gemm",
				Inputs:     []string{cur, name + ".weight", name + ".bias"},
				Outputs:    []string{name},
				Attributes: []AttributeProto{intAttr("transB", 1)},
			})
		case *nn.Convolution:
			g.Nodes, g.Initializers = convNodes(g.Nodes, g.Initializers, name, cur, l)
		case *nn.Activation:
			g.Nodes = append(g.Nodes, NodeProto{Name: name, OpType: "Relu", Inputs: []string{cur}, Outputs: []string{name}})
		case *nn.Dropout:
			g.Nodes = append(g.Nodes, NodeProto{Name: name, OpType: "Identity", Inputs: []string{cur}, Outputs: []string{name}})
		case *nn.Softmax:
			g.Nodes = append(g.Nodes, NodeProto{
				Name: name, OpType: "Softmax",
				Inputs:     []string{cur},
				Outputs:    []string{name},
				Attributes: []AttributeProto{intAttr("axis", 1)},
			})
		default:
			return nil, fmt.Errorf("checkpoint: layer %d: %v cannot be exported: %w", idx, l.Kind(), ErrMismatch)
		}
		cur, dim = name, out
	}
	g.Outputs = []ValueInfoProto{batchInfo(cur, dim)}

	return &ModelProto{
		IRVersion:    irVersion,
		ProducerName: ProducerName,
		ModelVersion: 1,
		Graph:        g,
		OpsetImport:  []OperatorSetID{{Version: opset}},
	}, nil
}

// convNodes appends the NHWC convolution as NCHW ONNX operators.
func convNodes(nodes []NodeProto, inits []TensorProto, name, cur string, l *nn.Convolution) ([]NodeProto, []TensorProto) {
	s := l.Spec()
	oh, ow := l.OutputShape()
	inits = append(inits,
		floatTensor(name+".weight", []int64{int64(s.Filters), int64(s.InC), int64(s.FilterH), int64(s.FilterW)}, convToONNX(l)),
		int64Tensor(name+".shape_in", []int64{-1, int64(s.InH), int64(s.InW), int64(s.InC)}),
		int64Tensor(name+".shape_out", []int64{-1, int64(oh * ow * s.Filters)}),
	)
	pad, stride := int64(s.Pad), int64(s.Stride)
	nodes = append(nodes,
		NodeProto{Name: name + "/reshape_in", OpType: "Reshape", Inputs: []string{cur, name + ".shape_in"}, Outputs: []string{name + "/nhwc"}},
		NodeProto{
			Name: name + "/to_nchw", OpType: "Transpose",
			Inputs: []string{name + "/nhwc"}, Outputs: []string{name + "/nchw"},
			Attributes: []AttributeProto{intsAttr("perm", 0, 3, 1, 2)},
		},
		NodeProto{
			Name: name, OpType: "Conv",
			Inputs: []string{name + "/nchw", name + ".weight"}, Outputs: []string{name + "/conv"},
			Attributes: []AttributeProto{
				intsAttr("kernel_shape", int64(s.FilterH), int64(s.FilterW)),
				intsAttr("pads", pad, pad, pad, pad),
				intsAttr("strides", stride, stride),
			},
		},
		NodeProto{
			Name: name + "/to_nhwc", OpType: "Transpose",
			Inputs: []string{name + "/conv"}, Outputs: []string{name + "/conv_nhwc"},
			Attributes: []AttributeProto{intsAttr("perm", 0, 2, 3, 1)},
		},
		NodeProto{Name: name + "/reshape_out", OpType: "Reshape", Inputs: []string{name + "/conv_nhwc", name + ".shape_out"}, Outputs: []string{name}},
	)
	return nodes, inits
}

// Restore copies the initializers of m into the parameters of layers.
// Every parameter must be present with a matching number of values. All
// initializers are checked before any parameter is written, so a failed
// restore leaves the layers unchanged. Parameters mirrored on an
// accelerator are uploaded.
func Restore(m *ModelProto, layers []nn.Layer) error {
	if m.Graph == nil {
		return fmt.Errorf("checkpoint: model has no graph: %w", ErrFormat)
	}
	inits := make(map[string]*TensorProto, len(m.Graph.Initializers))
	for i := range m.Graph.Initializers {
		inits[m.Graph.Initializers[i].Name] = &m.Graph.Initializers[i]
	}

	var writes []write
	for idx, l := range layers {
		name := fmt.Sprintf("layer%d", idx)
		switch l := l.(type) {
		case *nn.Dense:
			w, err := lookup(inits, name+".weight", l.Weight(), denseFromONNX)
			if err != nil {
				return err
			}
			b, err := lookup(inits, name+".bias", l.Bias(), copyInto)
			if err != nil {
				return err
			}
			writes = append(writes, w, b)
		case *nn.Convolution:
			w, err := lookup(inits, name+".weight", l.Weight(), func(_ *tensor.Buffer, src []float32) {
				convFromONNX(l, src)
			})
			if err != nil {
				return err
			}
			writes = append(writes, w)
		}
	}

	for _, w := range writes {
		w.fill(w.dst, w.data)
	}
	for _, l := range layers {
		for _, p := range l.Parameters() {
			if p.HasDevice() {
				if err := p.ToDevice(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// write is a checked initializer waiting to be copied into dst.
type write struct {
	dst  *tensor.Buffer
	data []float32
	fill func(*tensor.Buffer, []float32)
}

func lookup(inits map[string]*TensorProto, name string, dst *tensor.Buffer, fill func(*tensor.Buffer, []float32)) (write, error) {
	t, ok := inits[name]
	if !ok {
		return write{}, fmt.Errorf("checkpoint: missing initializer %q: %w", name, ErrMismatch)
	}
	data, err := t.floats()
	if err != nil {
		return write{}, fmt.Errorf("checkpoint: initializer %q: %w", name, err)
	}
	if len(data) != dst.Len() {
		return write{}, fmt.Errorf("checkpoint: initializer %q has %d values, want %d: %w", name, len(data), dst.Len(), ErrMismatch)
	}
	return write{dst: dst, data: data, fill: fill}, nil
}

func copyInto(dst *tensor.Buffer, src []float32) { copy(dst.Host(), src) }

// Save writes layers as an ONNX model to w.
func Save(w io.Writer, layers []nn.Layer) error {
	m, err := Export(layers)
	if err != nil {
		return err
	}
	_, err = w.Write(m.Marshal())
	return err
}

// SaveFile writes layers as an ONNX model to path.
func SaveFile(path string, layers []nn.Layer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Save(f, layers); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads an ONNX model from r and restores it into layers.
func Load(r io.Reader, layers []nn.Layer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m, err := Unmarshal(data)
	if err != nil {
		return err
	}
	return Restore(m, layers)
}

// LoadFile restores layers from the ONNX model at path.
func LoadFile(path string, layers []nn.Layer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Load(f, layers)
}

// denseToONNX returns the [out, in] weight in row-major order.
func denseToONNX(w *tensor.Buffer) []float32 {
	out, in := w.Rows(), w.Cols()
	data := make([]float32, out*in)
	for o := range out {
		for i := range in {
			data[o*in+i] = w.At(o, i)
		}
	}
	return data
}

func denseFromONNX(w *tensor.Buffer, data []float32) {
	out, in := w.Rows(), w.Cols()
	for o := range out {
		for i := range in {
			w.Set(o, i, data[o*in+i])
		}
	}
}

// convToONNX returns the HWIO filter matrix in OIHW order.
func convToONNX(l *nn.Convolution) []float32 {
	s, w := l.Spec(), l.Weight()
	data := make([]float32, w.Len())
	for k := range s.Filters {
		for c := range s.InC {
			for fh := range s.FilterH {
				for fw := range s.FilterW {
					data[((k*s.InC+c)*s.FilterH+fh)*s.FilterW+fw] = w.At(k, (fh*s.FilterW+fw)*s.InC+c)
				}
			}
		}
	}
	return data
}

func convFromONNX(l *nn.Convolution, data []float32) {
	s, w := l.Spec(), l.Weight()
	for k := range s.Filters {
		for c := range s.InC {
			for fh := range s.FilterH {
				for fw := range s.FilterW {
					w.Set(k, (fh*s.FilterW+fw)*s.InC+c, data[((k*s.InC+c)*s.FilterH+fh)*s.FilterW+fw])
				}
			}
		}
	}
}

func floatTensor(name string, dims []int64, data []float32) TensorProto {
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return TensorProto{Name: name, Dims: dims, DataType: TensorProtoFloat, RawData: raw}
}

func int64Tensor(name string, data []int64) TensorProto {
	return TensorProto{Name: name, Dims: []int64{int64(len(data))}, DataType: TensorProtoInt64, Int64Data: data}
}

// floats returns the values of a float tensor stored as raw_data or
// float_data.
func (t *TensorProto) floats() ([]float32, error) {
	if t.DataType != TensorProtoFloat {
		return nil, fmt.Errorf("data type %d is not float: %w", t.DataType, ErrMismatch)
	}
	if len(t.RawData) == 0 {
		return t.FloatData, nil
	}
	if len(t.RawData)%4 != 0 {
		return nil, fmt.Errorf("raw data of %d bytes: %w", len(t.RawData), ErrFormat)
	}
	out := make([]float32, len(t.RawData)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:]))
	}
	return out, nil
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeInt, I: v}
}

func intsAttr(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeInts, Ints: v}
}

func batchInfo(name string, dim int) ValueInfoProto {
	return ValueInfoProto{
		Name:     name,
		ElemType: TensorProtoFloat,
		Shape:    []DimensionProto{{DimParam: "batch"}, {DimValue: int64(dim)}},
	}
}
