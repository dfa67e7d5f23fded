package matrix

import (
	"errors"
	"fmt"
	"math"
)

// MinRows is the smallest matrix a clustering run accepts.
const MinRows = 3

var (
	// ErrTooSmall is returned for matrices with fewer than MinRows rows.
	ErrTooSmall = errors.New("matrix too small")
	// ErrNotSymmetric is returned when m[i][j] and m[j][i] differ.
	ErrNotSymmetric = errors.New("matrix not symmetric")
	// ErrNotDiagonallyDominant is returned when an entry exceeds its row's diagonal.
	ErrNotDiagonallyDominant = errors.New("matrix not diagonally dominant")
)

// Validate checks that m is large enough, symmetric within tol and that no
// valid entry exceeds the diagonal of its row by more than tol. NaN entries
// are skipped.
func Validate(m Matrix, tol float64) error {
	n := m.Rows()
	if n < MinRows {
		return fmt.Errorf("%w: %d rows, need at least %d", ErrTooSmall, n, MinRows)
	}

	for i := 0; i < n; i++ {
		diag := m.At(i, i)
		for j := 0; j < n; j++ {
			v := m.At(i, j)
			if !IsValid(v) {
				continue
			}
			if j > i {
				w := m.At(j, i)
				if IsValid(w) && math.Abs(v-w) > tol {
					return fmt.Errorf("%w: (%d,%d)=%g but (%d,%d)=%g", ErrNotSymmetric, i, j, v, j, i, w)
				}
			}
			if IsValid(diag) && v > diag+tol {
				return fmt.Errorf("%w: (%d,%d)=%g exceeds diagonal %g", ErrNotDiagonallyDominant, i, j, v, diag)
			}
		}
	}

	return nil
}
