package checkpoint

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes m in protobuf wire format.
func (m *ModelProto) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.IRVersion))
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendVarint(b, 5, uint64(m.ModelVersion))
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, m.Graph.marshal(nil))
	}
	for _, o := range m.OpsetImport {
		var sub []byte
		sub = appendString(sub, 1, o.Domain)
		sub = appendVarint(sub, 2, uint64(o.Version))
		b = appendMessage(b, 8, sub)
	}
	return b
}

func (g *GraphProto) marshal(b []byte) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, g.Nodes[i].marshal(nil))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, g.Initializers[i].marshal(nil))
	}
	for i := range g.Inputs {
		b = appendMessage(b, 11, g.Inputs[i].marshal(nil))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, g.Outputs[i].marshal(nil))
	}
	return b
}

func (n *NodeProto) marshal(b []byte) []byte {
	for _, s := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	for _, s := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for _, a := range n.Attributes {
		var sub []byte
		sub = appendString(sub, 1, a.Name)
		if a.Type == AttributeInt {
			sub = protowire.AppendTag(sub, 3, protowire.VarintType)
			sub = protowire.AppendVarint(sub, uint64(a.I))
		}
		for _, v := range a.Ints {
			sub = protowire.AppendTag(sub, 8, protowire.VarintType)
			sub = protowire.AppendVarint(sub, uint64(v))
		}
		sub = appendVarint(sub, 20, uint64(a.Type))
		b = appendMessage(b, 5, sub)
	}
	return b
}

func (t *TensorProto) marshal(b []byte) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendVarint(b, 2, uint64(t.DataType))
	if len(t.FloatData) > 0 {
		var packed []byte
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, 4, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, 7, packed)
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendMessage(b, 9, t.RawData)
	}
	return b
}

func (v *ValueInfoProto) marshal(b []byte) []byte {
	b = appendString(b, 1, v.Name)
	var shape []byte
	for _, d := range v.Shape {
		var dim []byte
		if d.DimParam != "" {
			dim = appendString(dim, 2, d.DimParam)
		} else {
			dim = protowire.AppendTag(dim, 1, protowire.VarintType)
			dim = protowire.AppendVarint(dim, uint64(d.DimValue))
		}
		shape = appendMessage(shape, 1, dim)
	}
	var tensor []byte
	tensor = appendVarint(tensor, 1, uint64(v.ElemType))
	tensor = appendMessage(tensor, 2, shape)
	return appendMessage(b, 2, appendMessage(nil, 1, tensor))
}

// appendVarint and appendString omit zero values like proto3 would.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// Unmarshal decodes an ONNX model. Unknown fields are skipped.
func Unmarshal(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v field) error {
		var err error
		switch num {
		case 1:
			m.IRVersion, err = v.asInt64(typ)
		case 2:
			m.ProducerName, err = v.asString(typ)
		case 3:
			m.ProducerVersion, err = v.asString(typ)
		case 5:
			m.ModelVersion, err = v.asInt64(typ)
		case 6:
			m.DocString, err = v.asString(typ)
		case 7:
			m.Graph, err = unmarshalGraph(v.raw)
		case 8:
			var o OperatorSetID
			err = walk(v.raw, func(num protowire.Number, typ protowire.Type, v field) error {
				var err error
				switch num {
				case 1:
					o.Domain, err = v.asString(typ)
				case 2:
					o.Version, err = v.asInt64(typ)
				}
				return err
			})
			m.OpsetImport = append(m.OpsetImport, o)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parse model: %w", err)
	}
	return m, nil
}

func unmarshalGraph(data []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v field) error {
		switch num {
		case 1:
			n, err := unmarshalNode(v.raw)
			if err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case 2:
			s, err := v.asString(typ)
			g.Name = s
			return err
		case 5:
			t, err := unmarshalTensor(v.raw)
			if err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		case 11, 12:
			vi, err := unmarshalValueInfo(v.raw)
			if err != nil {
				return err
			}
			if num == 11 {
				g.Inputs = append(g.Inputs, vi)
			} else {
				g.Outputs = append(g.Outputs, vi)
			}
		}
		return nil
	})
	return g, err
}

func unmarshalNode(data []byte) (NodeProto, error) {
	var n NodeProto
	err := walk(data, func(num protowire.Number, typ protowire.Type, v field) error {
		var err error
		var s string
		switch num {
		case 1:
			s, err = v.asString(typ)
			n.Inputs = append(n.Inputs, s)
		case 2:
			s, err = v.asString(typ)
			n.Outputs = append(n.Outputs, s)
		case 3:
			n.Name, err = v.asString(typ)
		case 4:
			n.OpType, err = v.asString(typ)
		case 5:
			var a AttributeProto
			err = walk(v.raw, func(num protowire.Number, typ protowire.Type, v field) error {
				var err error
				switch num {
				case 1:
					a.Name, err = v.asString(typ)
				case 3:
					a.I, err = v.asInt64(typ)
				case 8:
					a.Ints, err = v.int64s(typ, a.Ints)
				case 20:
					var t int64
					t, err = v.asInt64(typ)
					a.Type = int32(t)
				}
				return err
			})
			n.Attributes = append(n.Attributes, a)
		}
		return err
	})
	return n, err
}

func unmarshalTensor(data []byte) (TensorProto, error) {
	var t TensorProto
	err := walk(data, func(num protowire.Number, typ protowire.Type, v field) error {
		var err error
		switch num {
		case 1:
			t.Dims, err = v.int64s(typ, t.Dims)
		case 2:
			var dt int64
			dt, err = v.asInt64(typ)
			t.DataType = int32(dt)
		case 4:
			t.FloatData, err = v.float32s(typ, t.FloatData)
		case 7:
			t.Int64Data, err = v.int64s(typ, t.Int64Data)
		case 8:
			t.Name, err = v.asString(typ)
		case 9:
			if typ != protowire.BytesType {
				return errWireType(num, typ)
			}
			t.RawData = append([]byte(nil), v.raw...)
		}
		return err
	})
	return t, err
}

func unmarshalValueInfo(data []byte) (ValueInfoProto, error) {
	var vi ValueInfoProto
	err := walk(data, func(num protowire.Number, typ protowire.Type, v field) error {
		switch num {
		case 1:
			s, err := v.asString(typ)
			vi.Name = s
			return err
		case 2:
			// TypeProto.tensor_type
			return walk(v.raw, func(num protowire.Number, _ protowire.Type, v field) error {
				if num != 1 {
					return nil
				}
				return walk(v.raw, func(num protowire.Number, typ protowire.Type, v field) error {
					switch num {
					case 1:
						et, err := v.asInt64(typ)
						vi.ElemType = int32(et)
						return err
					case 2:
						return walk(v.raw, func(num protowire.Number, _ protowire.Type, v field) error {
							if num != 1 {
								return nil
							}
							var d DimensionProto
							err := walk(v.raw, func(num protowire.Number, typ protowire.Type, v field) error {
								var err error
								switch num {
								case 1:
									d.DimValue, err = v.asInt64(typ)
								case 2:
									d.DimParam, err = v.asString(typ)
								}
								return err
							})
							vi.Shape = append(vi.Shape, d)
							return err
						})
					}
					return nil
				})
			})
		}
		return nil
	})
	return vi, err
}

// field is one decoded field value: the varint or fixed value for scalar
// wire types, the payload for length-delimited ones.
type field struct {
	num    protowire.Number
	scalar uint64
	raw    []byte
}

func (f field) asInt64(typ protowire.Type) (int64, error) {
	if typ != protowire.VarintType {
		return 0, errWireType(f.num, typ)
	}
	return int64(f.scalar), nil
}

func (f field) asString(typ protowire.Type) (string, error) {
	if typ != protowire.BytesType {
		return "", errWireType(f.num, typ)
	}
	return string(f.raw), nil
}

// int64s appends a repeated int64 in packed or unpacked encoding.
func (f field) int64s(typ protowire.Type, dst []int64) ([]int64, error) {
	switch typ {
	case protowire.VarintType:
		return append(dst, int64(f.scalar)), nil
	case protowire.BytesType:
		b := f.raw
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	}
	return nil, errWireType(f.num, typ)
}

// float32s appends a repeated float in packed or unpacked encoding.
func (f field) float32s(typ protowire.Type, dst []float32) ([]float32, error) {
	switch typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(uint32(f.scalar))), nil
	case protowire.BytesType:
		b := f.raw
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	}
	return nil, errWireType(f.num, typ)
}

func errWireType(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("field %d: unexpected wire type %d: %w", num, typ, ErrFormat)
}

// walk calls fn for every field of a message.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrFormat, protowire.ParseError(n))
		}
		b = b[n:]

		v := field{num: num}
		switch typ {
		case protowire.VarintType:
			v.scalar, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			v.scalar = uint64(x)
		case protowire.Fixed64Type:
			v.scalar, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrFormat, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}
