// Package testutil provides shared test infrastructure for the popsim kernel.
// It holds small model fixtures and assertion helpers used across sim/,
// sim/job/ and cmd/ test packages.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/popsim/popsim/sim/model"
)

// ModelPath resolves a file under the repository's testdata/models directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func ModelPath(t *testing.T, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "models", name)
}

// LoadModel parses and analyzes a model from testdata/models.
func LoadModel(t *testing.T, name string) *model.Model {
	t.Helper()

	data, err := os.ReadFile(ModelPath(t, name))
	if err != nil {
		t.Fatalf("Failed to read model %s: %v", name, err)
	}
	m, err := model.ParseModel(data)
	if err != nil {
		t.Fatalf("Failed to parse model %s: %v", name, err)
	}
	return m
}

// Compartment returns a compartment part with a constant initial $n.
func Compartment(name string, n float64) *model.EquationSet {
	s := &model.EquationSet{Name: name}
	s.N = &model.Variable{Name: "$n", Global: true, Stored: true, InitOnly: true, InitEval: model.Const(n)}
	s.Global = append(s.Global, s.N)
	return s
}

// Connection returns a connection part binding a and b with a constant
// creation probability.
func Connection(name string, a, b *model.EquationSet, p float64) *model.EquationSet {
	s := &model.EquationSet{
		Name:       name,
		Connection: true,
		Poll:       -1,
		Bindings: []*model.Binding{
			{Alias: "A", Part: a},
			{Alias: "B", Part: b},
		},
	}
	s.P = &model.Variable{Name: "$p", Stored: true, Eval: model.Const(p), Default: 1}
	s.Local = append(s.Local, s.P)
	return s
}

// NewModel wraps parts into a model with the given step and duration.
func NewModel(name string, step, duration float64, parts ...*model.EquationSet) *model.Model {
	return &model.Model{Name: name, Step: step, Duration: duration, Seed: 42, Parts: parts}
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
