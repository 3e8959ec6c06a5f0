package train

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/tensor"
)

// Batch is one mini-batch: features and targets with one observation per
// column. A Batch is owned by the queue between Push and Pop and by the
// consumer afterwards.
type Batch struct {
	Features *tensor.Buffer
	Targets  *tensor.Buffer
}

// Size returns the number of observations.
func (b *Batch) Size() int { return b.Features.Cols() }

// Gather copies rows idx of features and targets (observations as rows)
// into a new column-major batch.
func Gather(features, targets *mat.Dense, idx []int) (*Batch, error) {
	fr, fc := features.Dims()
	tr, tc := targets.Dims()
	if fr != tr {
		return nil, fmt.Errorf("train: %d feature rows, %d target rows: %w", fr, tr, tensor.ErrShapeMismatch)
	}
	b := &Batch{Features: tensor.New(fc, len(idx)), Targets: tensor.New(tc, len(idx))}
	for j, row := range idx {
		if row < 0 || row >= fr {
			return nil, fmt.Errorf("train: row %d out of %d: %w", row, fr, tensor.ErrShapeMismatch)
		}
		copyRow(b.Features.Col(j), features.RawRowView(row))
		copyRow(b.Targets.Col(j), targets.RawRowView(row))
	}
	return b, nil
}

func copyRow(dst []float32, src []float64) {
	for i, v := range src {
		dst[i] = float32(v)
	}
}

// Rows returns the rows of m listed in idx as a new matrix.
func Rows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(max(len(idx), 1), c, nil)
	for i, row := range idx {
		out.SetRow(i, m.RawRowView(row))
	}
	return out
}
