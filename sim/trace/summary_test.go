package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_Empty_ZeroValues(t *testing.T) {
	// GIVEN no records
	// WHEN summarized
	s := Summarize(nil)

	// THEN all counts are zero
	assert.Zero(t, s.Rows)
	assert.Zero(t, s.UniqueEntities())
	assert.Empty(t, s.Variables)
}

func TestSummarize_PerVariableStatistics(t *testing.T) {
	// GIVEN rows for two variables across three entities
	records := []Record{
		{Time: 0.1, Entity: "A[0]", Variable: "v", Value: 1},
		{Time: 0.1, Entity: "A[1]", Variable: "v", Value: 3},
		{Time: 0.2, Entity: "A[0]", Variable: "v", Value: 5},
		{Time: 0.3, Entity: "B", Variable: "w", Value: -2},
	}

	// WHEN summarized
	s := Summarize(records)

	// THEN totals and per-variable min, max and mean match
	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, 3, s.UniqueEntities())
	assert.Equal(t, 0.1, s.FirstTime)
	assert.Equal(t, 0.3, s.LastTime)

	v := s.Variables["v"]
	require.NotNil(t, v)
	assert.Equal(t, 3, v.Count)
	assert.Equal(t, 1.0, v.Min)
	assert.Equal(t, 5.0, v.Max)
	assert.InDelta(t, 3.0, v.Mean, 1e-12)

	w := s.Variables["w"]
	require.NotNil(t, w)
	assert.Equal(t, -2.0, w.Mean)
}

func TestWriter_SummaryTracksRecordedRows(t *testing.T) {
	// GIVEN a writer
	w := New(&discard{})

	// WHEN rows are recorded
	w.Record(0, "A", "x", 2)
	w.Record(1, "A", "x", 4)

	// THEN the running summary reflects them before any flush
	assert.Equal(t, 2, w.Summary().Rows)
	assert.InDelta(t, 3.0, w.Summary().Variables["x"].Mean, 1e-12)
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }
