package checkpoint

// ONNX protobuf messages (hand-written subset). Field numbers follow
// onnx.proto; fields the exporter never writes are skipped on read.

// ModelProto is the top-level ONNX message.
type ModelProto struct {
	IRVersion       int64           // 1
	ProducerName    string          // 2
	ProducerVersion string          // 3
	ModelVersion    int64           // 5
	DocString       string          // 6
	Graph           *GraphProto     // 7
	OpsetImport     []OperatorSetID // 8
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string // 1
	Version int64  // 2
}

// GraphProto is the computation graph.
type GraphProto struct {
	Nodes        []NodeProto      // 1
	Name         string           // 2
	Initializers []TensorProto    // 5
	Inputs       []ValueInfoProto // 11
	Outputs      []ValueInfoProto // 12
}

// NodeProto is one operation.
type NodeProto struct {
	Inputs     []string         // 1
	Outputs    []string         // 2
	Name       string           // 3
	OpType     string           // 4
	Attributes []AttributeProto // 5
}

// AttributeProto is a node attribute. Only INT and INTS are produced.
type AttributeProto struct {
	Name string  // 1
	I    int64   // 3
	Ints []int64 // 8
	Type int32   // 20
}

// TensorProto is an initializer.
type TensorProto struct {
	Dims      []int64   // 1
	DataType  int32     // 2
	FloatData []float32 // 4
	Int64Data []int64   // 7
	Name      string    // 8
	RawData   []byte    // 9
}

// ValueInfoProto describes a graph input or output.
type ValueInfoProto struct {
	Name     string           // 1
	ElemType int32            // type.tensor_type.elem_type
	Shape    []DimensionProto // type.tensor_type.shape.dim
}

// DimensionProto is a static size or a named symbolic dimension.
type DimensionProto struct {
	DimValue int64  // 1
	DimParam string // 2
}

// Tensor element types.
const (
	TensorProtoFloat = 1
	TensorProtoInt64 = 7
)

// Attribute types.
const (
	AttributeInt  = 2
	AttributeInts = 7
)

// Versions written by Export.
const (
	irVersion = 7
	opset     = 13
)
