package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/popsim/popsim/sim"
	"github.com/popsim/popsim/sim/internal/testutil"
	"github.com/popsim/popsim/sim/model"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func readMarker(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestRun_Success_WritesMarkersAndTrace(t *testing.T) {
	// GIVEN the five-compartment model and a job directory
	m := testutil.LoadModel(t, "population.yaml")
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "trace.csv")

	// WHEN the job runs
	status := Run(m, sim.Config{}, Options{Dir: dir, TracePath: tracePath})

	// THEN it exits 0 with both markers and a trace of v for every cell
	assert.Equal(t, 0, status)
	assert.NotEmpty(t, readMarker(t, dir, StartedMarker))
	assert.Equal(t, "success", readMarker(t, dir, FinishedMarker))

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "time,entity,variable,value", lines[0])
	assert.Len(t, lines, 1+5*10)
}

func TestExecute_Result(t *testing.T) {
	// GIVEN the five-compartment model
	m := testutil.LoadModel(t, "population.yaml")

	// WHEN executed without a job directory
	res, err := Execute(context.Background(), m, sim.Config{}, Options{TracePath: filepath.Join(t.TempDir(), "t.csv")})

	// THEN the result reports ten bucket passes and five live cells
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.BucketPasses)
	assert.Equal(t, 5, res.Counts["cells"])
	require.NotNil(t, res.Trace)
	assert.Equal(t, 50, res.Trace.Rows)
	testutil.AssertFloat64Equal(t, "final v", 1.0, res.Trace.Variables["v"].Max, 1e-9)
}

func TestRun_StructureError_WritesFailure(t *testing.T) {
	// GIVEN a model whose connection endpoint has no reachable population
	inner := testutil.Compartment("inner", 1)
	outer := testutil.Compartment("outer", 1)
	outer.Parts = []*model.EquationSet{inner}
	conn := testutil.Connection("link", inner, inner, 1)
	m := testutil.NewModel("broken", 0.1, 0.3, outer, conn)
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "trace.csv")

	// WHEN the job runs
	status := Run(m, sim.Config{}, Options{Dir: dir, TracePath: tracePath})

	// THEN it exits 1, the marker names the failure and the trace holds the diagnostic
	assert.Equal(t, 1, status)
	finished := readMarker(t, dir, FinishedMarker)
	assert.True(t, strings.HasPrefix(finished, "failure: "), finished)
	assert.Contains(t, finished, "no population of inner")

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# failure: ")
}

func TestRun_EvaluatorPanic_WritesFailureAndClosesTrace(t *testing.T) {
	// GIVEN a traced variable whose equation panics on the second pass
	cells := testutil.Compartment("cells", 1)
	v := &model.Variable{Name: "v", Stored: true, Trace: true, InitEval: model.Const(0)}
	v.Eval = model.EvalFunc(func(c model.Context) (float64, bool) {
		if c.Time() > 0.15 {
			panic("evaluator blew up")
		}
		return 1, true
	})
	cells.Local = append(cells.Local, v)
	m := testutil.NewModel("panicky", 0.1, 0.5, cells)
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "trace.csv")

	// WHEN the job runs
	var status int
	require.NotPanics(t, func() {
		status = Run(m, sim.Config{}, Options{Dir: dir, TracePath: tracePath})
	})

	// THEN it exits 1 with a failure marker naming the panic
	assert.Equal(t, 1, status)
	finished := readMarker(t, dir, FinishedMarker)
	assert.True(t, strings.HasPrefix(finished, "failure: "), finished)
	assert.Contains(t, finished, "evaluator blew up")

	// AND the rows recorded before the panic were flushed ahead of the diagnostic
	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "time,entity,variable,value", lines[0])
	assert.Contains(t, lines[1], "cells[0],v,1")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "# failure: "), lines[len(lines)-1])
}

func TestExecute_CanceledContext_Interrupted(t *testing.T) {
	// GIVEN an already canceled context
	m := testutil.LoadModel(t, "population.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()

	// WHEN executed with an unbounded duration
	_, err := Execute(ctx, m, sim.Config{Duration: 1e9}, Options{Dir: dir, TracePath: filepath.Join(dir, "t.csv")})

	// THEN the run reports the interruption
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
	assert.Contains(t, readMarker(t, dir, FinishedMarker), "run interrupted")
}

func TestExecute_BadTracePath_Fails(t *testing.T) {
	// GIVEN a trace path under a regular file
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	// WHEN executed
	_, err := Execute(context.Background(), testutil.LoadModel(t, "population.yaml"), sim.Config{},
		Options{Dir: dir, TracePath: filepath.Join(blocker, "trace.csv")})

	// THEN the resource error aborts the run with a failure marker
	require.Error(t, err)
	assert.Contains(t, readMarker(t, dir, FinishedMarker), "failure: ")
}
