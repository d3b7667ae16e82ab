package model

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// SparseMatrix is a column-compressed read-only matrix holding only non-zero
// entries. It satisfies mat.Matrix so it can be handed to gonum routines.
type SparseMatrix struct {
	rows, cols int
	colStart   []int // len cols+1
	rowIndex   []int
	values     []float64
}

// NewSparseMatrix scans m and keeps its non-zero entries.
func NewSparseMatrix(m mat.Matrix) *SparseMatrix {
	r, c := m.Dims()
	s := &SparseMatrix{rows: r, cols: c, colStart: make([]int, c+1)}
	for j := 0; j < c; j++ {
		s.colStart[j] = len(s.values)
		for i := 0; i < r; i++ {
			if v := m.At(i, j); v != 0 {
				s.rowIndex = append(s.rowIndex, i)
				s.values = append(s.values, v)
			}
		}
	}
	s.colStart[c] = len(s.values)
	return s
}

// Dims implements mat.Matrix.
func (s *SparseMatrix) Dims() (r, c int) { return s.rows, s.cols }

// At implements mat.Matrix.
func (s *SparseMatrix) At(i, j int) float64 {
	if i < 0 || i >= s.rows || j < 0 || j >= s.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	lo, hi := s.colStart[j], s.colStart[j+1]
	k := lo + sort.SearchInts(s.rowIndex[lo:hi], i)
	if k < hi && s.rowIndex[k] == i {
		return s.values[k]
	}
	return 0
}

// T implements mat.Matrix.
func (s *SparseMatrix) T() mat.Matrix { return mat.Transpose{Matrix: s} }

// NNZ returns the number of stored entries.
func (s *SparseMatrix) NNZ() int { return len(s.values) }

// Do calls fn for every non-zero entry in column-major order.
func (s *SparseMatrix) Do(fn func(r, c int, v float64)) {
	for j := 0; j < s.cols; j++ {
		for k := s.colStart[j]; k < s.colStart[j+1]; k++ {
			fn(s.rowIndex[k], j, s.values[k])
		}
	}
}
