// Package matrix provides the square numeric containers used by the
// estimators and clustering engines.
//
// Entries are float64. NaN marks a cell with no data and is excluded from
// every aggregation in this module.
package matrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix is the common interface for square matrices.
type Matrix interface {
	// At returns the value at (i, j).
	At(i, j int) float64

	// Set stores v at (i, j).
	Set(i, j int, v float64)

	// Rows returns the number of rows (equal to the number of columns).
	Rows() int
}

// IsValid reports whether v carries data.
func IsValid(v float64) bool {
	return !math.IsNaN(v)
}

// Dense stores every cell of an n×n matrix.
type Dense struct {
	m *mat.Dense
	n int
}

// NewDense returns an n×n matrix filled with zeros.
func NewDense(n int) *Dense {
	d := &Dense{n: n}
	if n > 0 {
		d.m = mat.NewDense(n, n, nil)
	}
	return d
}

// NewDenseFrom builds a Dense matrix from row slices. All rows must have
// len(rows) columns.
func NewDenseFrom(rows [][]float64) (*Dense, error) {
	n := len(rows)
	d := NewDense(n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), n)
		}
		for j, v := range row {
			d.m.Set(i, j, v)
		}
	}
	return d, nil
}

// At returns the value at (i, j).
func (d *Dense) At(i, j int) float64 {
	checkIndex(i, j, d.n)
	return d.m.At(i, j)
}

// Set stores v at (i, j).
func (d *Dense) Set(i, j int, v float64) {
	checkIndex(i, j, d.n)
	d.m.Set(i, j, v)
}

// Rows returns the matrix dimension.
func (d *Dense) Rows() int {
	return d.n
}

// Row returns a copy of row i.
func (d *Dense) Row(i int) []float64 {
	checkIndex(i, 0, d.n)
	return mat.Row(nil, i, d.m)
}

// Symmetric stores only one triangle of a symmetric matrix. Writing (i, j)
// and (j, i) are equivalent.
//
// The logical size may be smaller than the allocated capacity so that rows
// can be added cheaply while a stream is being accumulated.
type Symmetric struct {
	s *mat.SymDense
	n int
}

// NewSymmetric returns an n×n symmetric matrix filled with zeros.
func NewSymmetric(n int) *Symmetric {
	s := &Symmetric{n: n}
	if n > 0 {
		s.s = mat.NewSymDense(n, nil)
	}
	return s
}

// At returns the value at (i, j).
func (s *Symmetric) At(i, j int) float64 {
	checkIndex(i, j, s.n)
	return s.s.At(i, j)
}

// Set stores v at (i, j) and (j, i).
func (s *Symmetric) Set(i, j int, v float64) {
	checkIndex(i, j, s.n)
	s.s.SetSym(i, j, v)
}

// Add increments the cell at (i, j) by delta.
func (s *Symmetric) Add(i, j int, delta float64) {
	checkIndex(i, j, s.n)
	s.s.SetSym(i, j, s.s.At(i, j)+delta)
}

// Rows returns the logical matrix dimension.
func (s *Symmetric) Rows() int {
	return s.n
}

// Grow extends the matrix by k rows and columns. New cells are zero.
func (s *Symmetric) Grow(k int) {
	if k <= 0 {
		return
	}
	want := s.n + k
	capacity := 0
	if s.s != nil {
		capacity, _ = s.s.Dims()
	}
	if want > capacity {
		newCap := 2 * capacity
		if newCap < want {
			newCap = want
		}
		grown := mat.NewSymDense(newCap, nil)
		for i := 0; i < s.n; i++ {
			for j := i; j < s.n; j++ {
				grown.SetSym(i, j, s.s.At(i, j))
			}
		}
		s.s = grown
	}
	s.n = want
}

func checkIndex(i, j, n int) {
	if i < 0 || i >= n || j < 0 || j >= n {
		panic(fmt.Sprintf("matrix: index (%d, %d) out of range [0, %d)", i, j, n))
	}
}
