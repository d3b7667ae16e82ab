package sim

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/popsim/popsim/sim/internal/testutil"
	"github.com/popsim/popsim/sim/model"
)

// traceRow is one value captured by memRecorder.
type traceRow struct {
	t        float64
	entity   string
	variable string
	value    float64
}

// memRecorder keeps every traced value in memory.
type memRecorder struct {
	rows     []traceRow
	onRecord func()
}

func (r *memRecorder) Record(t float64, entity, variable string, value float64) {
	r.rows = append(r.rows, traceRow{t: t, entity: entity, variable: variable, value: value})
	if r.onRecord != nil {
		r.onRecord()
	}
}

// where returns the rows of variable whose value equals value.
func (r *memRecorder) where(variable string, value float64) []traceRow {
	var out []traceRow
	for _, row := range r.rows {
		if row.variable == variable && row.value == value {
			out = append(out, row)
		}
	}
	return out
}

// mustNewSimulator analyzes m and returns a simulator using the model's own
// step, duration and seed.
func mustNewSimulator(t *testing.T, m *model.Model) *Simulator {
	t.Helper()
	s, err := NewSimulator(m, Config{})
	require.NoError(t, err)
	return s
}

// mustInit is mustNewSimulator followed by Init.
func mustInit(t *testing.T, m *model.Model) *Simulator {
	t.Helper()
	s := mustNewSimulator(t, m)
	require.NoError(t, s.Init())
	return s
}

// population returns the top-level population with the given name.
func population(t *testing.T, s *Simulator, name string) *Population {
	t.Helper()
	for _, p := range s.Populations() {
		if p.Name() == name {
			return p
		}
	}
	t.Fatalf("no top-level population %s", name)
	return nil
}

// requireStructurePanic runs fn and asserts it panics with a *StructureError.
func requireStructurePanic(t *testing.T, fn func()) *StructureError {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected a panic")
	err, ok := got.(error)
	require.True(t, ok, "panic value %v is not an error", got)
	var se *StructureError
	require.True(t, errors.As(err, &se), "panic value %v is not a StructureError", got)
	return se
}

// storedVar returns a stored local variable with a constant initial value.
func storedVar(name string, init float64) *model.Variable {
	return &model.Variable{Name: name, Stored: true, InitEval: model.Const(init), Default: init}
}

// readModel returns the text of a model under testdata/models.
func readModel(t *testing.T, name string) (string, error) {
	t.Helper()
	data, err := os.ReadFile(testutil.ModelPath(t, name))
	return string(data), err
}
