package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestSparseMatrix_MatchesDense(t *testing.T) {
	// GIVEN a dense matrix with scattered non-zeros
	dense := mat.NewDense(3, 4, []float64{
		0, 1.5, 0, 0,
		2, 0, 0, -1,
		0, 0, 0, 4,
	})

	// WHEN compressed
	s := NewSparseMatrix(dense)

	// THEN every entry reads back and only non-zeros are stored
	r, c := s.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 4, s.NNZ())
	assert.True(t, mat.Equal(dense, s))
	assert.True(t, mat.Equal(dense.T(), s.T()))
}

func TestSparseMatrix_DoColumnMajor(t *testing.T) {
	s := NewSparseMatrix(mat.NewDense(2, 2, []float64{
		0, 3,
		5, 7,
	}))

	type entry struct {
		r, c int
		v    float64
	}
	var got []entry
	s.Do(func(r, c int, v float64) { got = append(got, entry{r, c, v}) })

	assert.Equal(t, []entry{{1, 0, 5}, {0, 1, 3}, {1, 1, 7}}, got)
}

func TestSparseMatrix_OutOfRangePanics(t *testing.T) {
	s := NewSparseMatrix(mat.NewDense(1, 1, []float64{1}))
	assert.Panics(t, func() { s.At(1, 0) })
	assert.Panics(t, func() { s.At(0, -1) })
}

func TestSparseMatrix_Empty(t *testing.T) {
	s := NewSparseMatrix(mat.NewDense(2, 2, nil))
	assert.Equal(t, 0, s.NNZ())
	called := false
	s.Do(func(int, int, float64) { called = true })
	assert.False(t, called)
}
