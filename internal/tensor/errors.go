package tensor

import (
	"errors"
	"fmt"
)

// Error conditions shared by every component of the engine.
var (
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrInvalidShape        = errors.New("invalid shape")
	ErrInvalidDistribution = errors.New("prediction column does not sum to one")
	ErrUnsupportedBackend  = errors.New("no accelerator mirror allocated")
	ErrMissingSessionState = errors.New("training session is not established")
)

// ShapeError reports incompatible operand dimensions.
type ShapeError struct {
	Op         string // Operation that detected the mismatch
	Rows, Cols int    // Dimensions received
	WantRows   int    // Expected rows (-1 when unconstrained)
	WantCols   int    // Expected columns (-1 when unconstrained)
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: got %dx%d, want %s×%s", e.Op, e.Rows, e.Cols, dim(e.WantRows), dim(e.WantCols))
}

// Unwrap makes errors.Is(err, ErrShapeMismatch) hold.
func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

func dim(n int) string {
	if n < 0 {
		return "*"
	}
	return fmt.Sprint(n)
}

// CheckShape returns a *ShapeError when b does not have the given shape.
// Pass -1 to leave a dimension unconstrained.
func CheckShape(op string, b *Buffer, rows, cols int) error {
	if (rows >= 0 && b.rows != rows) || (cols >= 0 && b.cols != cols) {
		return &ShapeError{Op: op, Rows: b.rows, Cols: b.cols, WantRows: rows, WantCols: cols}
	}
	return nil
}

// CheckSameShape returns a *ShapeError when a and b differ in shape.
func CheckSameShape(op string, a, b *Buffer) error {
	return CheckShape(op, b, a.rows, a.cols)
}
