package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_FieldEquivalence(t *testing.T) {
	// GIVEN every field set through the constructor
	got := NewConfig(0.01, 2.5, 9, true)

	// THEN it equals the literal
	want := Config{Step: 0.01, Duration: 2.5, Seed: 9, StepEventsFirst: true}
	assert.Equal(t, want, got)
}

func TestNewConfig_ZeroValuesKept(t *testing.T) {
	assert.Equal(t, Config{}, NewConfig(0, 0, 0, false))
}

func TestStructureError_Message(t *testing.T) {
	tests := []struct {
		err  *StructureError
		want string
	}{
		{structuref("layer.syn", "endpoint %s missing", "A"), "model structure: layer.syn: endpoint A missing"},
		{structuref("", "clock went backwards"), "model structure: clock went backwards"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestRecoverStructure(t *testing.T) {
	run := func(v any) (err error) {
		defer recoverStructure(&err)
		if v != nil {
			panic(v)
		}
		return nil
	}

	assert.NoError(t, run(nil))
	assert.EqualError(t, run(structuref("cells", "bad")), "model structure: cells: bad")
	assert.PanicsWithValue(t, "other", func() { _ = run("other") }, "non-structure panics propagate")
}
