// Package tensor provides Buffer, the 2-D float32 storage exchanged between
// every component of the engine.
//
// A Buffer is column-major: element (r, c) lives at index r + c*Rows. Each
// column holds one observation, so a mini-batch of B examples with D features
// is a D×B buffer.
//
// A Buffer always owns a host array and may additionally own a mirror on one
// accelerator. Nothing synchronizes the two implicitly: callers that cross
// backends call ToDevice or ToHost themselves, which keeps every transfer
// visible at the call site.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/device"
)

// Buffer is a 2-D float32 matrix with a host array and an optional
// accelerator mirror.
type Buffer struct {
	rows, cols int
	host       []float32

	acc device.Accelerator
	mem device.Memory
}

// New allocates a zero-filled rows×cols host buffer.
func New(rows, cols int) *Buffer {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("tensor: negative shape %dx%d", rows, cols))
	}
	return &Buffer{rows: rows, cols: cols, host: make([]float32, rows*cols)}
}

// FromSlice creates a buffer from column-major data. The slice is copied.
func FromSlice(rows, cols int, data []float32) (*Buffer, error) {
	b := New(rows, cols)
	if err := b.CopyFrom(data); err != nil {
		return nil, err
	}
	return b, nil
}

// FromDense creates a buffer whose columns are the rows of m, i.e. the
// observations-as-rows layout used by datasets becomes observations-as-columns.
func FromDense(m mat.Matrix) *Buffer {
	r, c := m.Dims()
	b := New(c, r)
	b.fillFromDense(m)
	return b
}

// Rows returns the number of rows.
func (b *Buffer) Rows() int { return b.rows }

// Cols returns the number of columns.
func (b *Buffer) Cols() int { return b.cols }

// Len returns rows*cols.
func (b *Buffer) Len() int { return b.rows * b.cols }

// Host returns the host array. Writes through the slice modify the buffer.
func (b *Buffer) Host() []float32 { return b.host }

// At returns element (r, c) of the host array.
func (b *Buffer) At(r, c int) float32 { return b.host[r+c*b.rows] }

// Set sets element (r, c) of the host array.
func (b *Buffer) Set(r, c int, v float32) { b.host[r+c*b.rows] = v }

// Col returns column c of the host array as a subslice.
func (b *Buffer) Col(c int) []float32 { return b.host[c*b.rows : (c+1)*b.rows] }

// CopyFrom copies column-major data into the host array.
func (b *Buffer) CopyFrom(data []float32) error {
	if len(data) != len(b.host) {
		return fmt.Errorf("tensor: copy-in of %d values into %dx%d buffer: %w",
			len(data), b.rows, b.cols, ErrShapeMismatch)
	}
	copy(b.host, data)
	return nil
}

// CopyFromDense copies m into the host array, transposing observations-as-rows
// into observations-as-columns. m must be Cols×Rows.
func (b *Buffer) CopyFromDense(m mat.Matrix) error {
	r, c := m.Dims()
	if r != b.cols || c != b.rows {
		return &ShapeError{Op: "tensor: copy-in", Rows: c, Cols: r, WantRows: b.rows, WantCols: b.cols}
	}
	b.fillFromDense(m)
	return nil
}

func (b *Buffer) fillFromDense(m mat.Matrix) {
	for obs := 0; obs < b.cols; obs++ {
		col := b.Col(obs)
		for f := range col {
			col[f] = float32(m.At(obs, f))
		}
	}
}

// Dense returns a copy of the host array with observations as rows.
func (b *Buffer) Dense() *mat.Dense {
	out := mat.NewDense(max(b.cols, 1), max(b.rows, 1), nil)
	if b.rows == 0 || b.cols == 0 {
		return out
	}
	for obs := 0; obs < b.cols; obs++ {
		for f, v := range b.Col(obs) {
			out.Set(obs, f, float64(v))
		}
	}
	return out
}

// Zero clears the host array.
func (b *Buffer) Zero() {
	clear(b.host)
}

// CopyHost copies the host array of src into b. Shapes must match.
func (b *Buffer) CopyHost(src *Buffer) error {
	if err := CheckSameShape("tensor: copy", b, src); err != nil {
		return err
	}
	copy(b.host, src.host)
	return nil
}

// Attach allocates a zero-filled mirror of the buffer on acc. Attaching to the
// accelerator the buffer is already mirrored on is a no-op.
func (b *Buffer) Attach(acc device.Accelerator) error {
	if b.acc == acc && b.mem != nil {
		return nil
	}
	b.releaseMirror()
	mem, err := acc.Alloc(b.Len())
	if err != nil {
		return fmt.Errorf("tensor: attach %dx%d: %w", b.rows, b.cols, err)
	}
	b.acc, b.mem = acc, mem
	return nil
}

// Accelerator returns the device the mirror lives on, or nil.
func (b *Buffer) Accelerator() device.Accelerator { return b.acc }

// HasDevice reports whether an accelerator mirror is allocated.
func (b *Buffer) HasDevice() bool { return b.mem != nil }

// DeviceMemory returns the accelerator mirror.
func (b *Buffer) DeviceMemory() (device.Memory, error) {
	if b.mem == nil {
		return nil, ErrUnsupportedBackend
	}
	return b.mem, nil
}

// ToDevice copies the host array into the accelerator mirror.
func (b *Buffer) ToDevice() error {
	if b.mem == nil {
		return ErrUnsupportedBackend
	}
	return b.acc.Upload(b.mem, b.host)
}

// ToHost copies the accelerator mirror into the host array.
func (b *Buffer) ToHost() error {
	if b.mem == nil {
		return ErrUnsupportedBackend
	}
	return b.acc.Download(b.host, b.mem)
}

// Resize reallocates the buffer to rows×cols, zero-filled. The accelerator
// mirror, if any, is reallocated on the same device. Resizing to the current
// shape is a no-op and keeps the contents.
func (b *Buffer) Resize(rows, cols int) error {
	if rows == b.rows && cols == b.cols {
		return nil
	}
	b.rows, b.cols = rows, cols
	b.host = make([]float32, rows*cols)
	if b.mem == nil {
		return nil
	}
	acc := b.acc
	b.releaseMirror()
	return b.Attach(acc)
}

// Release frees the accelerator mirror. The host array stays valid.
func (b *Buffer) Release() {
	b.releaseMirror()
}

func (b *Buffer) releaseMirror() {
	if b.mem != nil {
		b.mem.Release()
	}
	b.acc, b.mem = nil, nil
}

// String returns a short description for logs and errors.
func (b *Buffer) String() string {
	loc := "host"
	if b.mem != nil {
		loc = "host+" + b.acc.Name()
	}
	return fmt.Sprintf("Buffer(%dx%d, %s)", b.rows, b.cols, loc)
}
