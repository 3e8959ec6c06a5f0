package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Gemm computes C = alpha*op(A)*op(B) + beta*C for column-major operands,
// where op(A) is m×k and op(B) is k×n.
//
// gonum's BLAS is row-major, and a column-major matrix read as row-major is
// its transpose, so the call is issued as Cᵀ = op(B)ᵀ·op(A)ᵀ with the
// operands swapped and the transpose flags unchanged.
func (cpu *CPUBackend) Gemm(tA, tB blas.Transpose, m, n, k int, alpha float32, a []float32, lda int,
	b []float32, ldb int, beta float32, c []float32, ldc int) error {
	if m == 0 || n == 0 {
		return nil
	}
	if err := checkOperand("gemm A", tA, m, k, a, lda); err != nil {
		return err
	}
	if err := checkOperand("gemm B", tB, k, n, b, ldb); err != nil {
		return err
	}
	if err := checkOperand("gemm C", blas.NoTrans, m, n, c, ldc); err != nil {
		return err
	}
	blas32.Implementation().Sgemm(tB, tA, n, m, k, alpha, b, ldb, a, lda, beta, c, ldc)
	return nil
}

// Gemv computes y = alpha*op(A)*x + beta*y for a column-major m×n matrix A.
func (cpu *CPUBackend) Gemv(tA blas.Transpose, m, n int, alpha float32, a []float32, lda int,
	x []float32, beta float32, y []float32) error {
	if m == 0 || n == 0 {
		return nil
	}
	if err := checkOperand("gemv A", blas.NoTrans, m, n, a, lda); err != nil {
		return err
	}
	xLen, yLen := n, m
	if tA == blas.Trans {
		xLen, yLen = m, n
	}
	if len(x) < xLen || len(y) < yLen {
		return fmt.Errorf("cpu: gemv vectors have %d/%d elements, need %d/%d: %w",
			len(x), len(y), xLen, yLen, errShape)
	}
	// Row-major view of A is Aᵀ (n×m), so the transpose flag flips.
	blas32.Implementation().Sgemv(flip(tA), n, m, alpha, a, lda, x, 1, beta, y, 1)
	return nil
}

func flip(t blas.Transpose) blas.Transpose {
	if t == blas.NoTrans {
		return blas.Trans
	}
	return blas.NoTrans
}

// checkOperand validates a column-major operand whose op() is rows×cols.
func checkOperand(name string, t blas.Transpose, rows, cols int, data []float32, ld int) error {
	storedRows, storedCols := rows, cols
	if t == blas.Trans {
		storedRows, storedCols = cols, rows
	}
	if ld < max(1, storedRows) {
		return fmt.Errorf("cpu: %s leading dimension %d < %d: %w", name, ld, storedRows, errShape)
	}
	if storedCols > 0 && len(data) < ld*(storedCols-1)+storedRows {
		return fmt.Errorf("cpu: %s has %d elements, need %d: %w", name, len(data), ld*(storedCols-1)+storedRows, errShape)
	}
	return nil
}
