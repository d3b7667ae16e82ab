package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvent struct {
	name string
	time float64
	kind EventKind
}

func (e *stubEvent) Timestamp() float64 { return e.time }
func (e *stubEvent) Kind() EventKind    { return e.kind }
func (e *stubEvent) Execute(*Simulator) {}

func TestEventQueue_Ordering(t *testing.T) {
	tests := []struct {
		name      string
		stepFirst bool
		events    []*stubEvent
		want      []string
	}{
		{
			name: "earlier time first",
			events: []*stubEvent{
				{name: "late", time: 2, kind: KindSpike},
				{name: "early", time: 1, kind: KindStep},
			},
			want: []string{"early", "late"},
		},
		{
			name: "non-step before step at equal time by default",
			events: []*stubEvent{
				{name: "bucket", time: 1, kind: KindStep},
				{name: "latch", time: 1, kind: KindLatch},
				{name: "spike", time: 1, kind: KindSpike},
			},
			want: []string{"latch", "spike", "bucket"},
		},
		{
			name:      "step before non-step when configured",
			stepFirst: true,
			events: []*stubEvent{
				{name: "spike", time: 1, kind: KindSpike},
				{name: "bucket", time: 1, kind: KindStep},
			},
			want: []string{"bucket", "spike"},
		},
		{
			name: "FIFO within the same time and rank",
			events: []*stubEvent{
				{name: "first", time: 1, kind: KindSpike},
				{name: "second", time: 1, kind: KindLatch},
				{name: "third", time: 1, kind: KindSpike},
			},
			want: []string{"first", "second", "third"},
		},
		{
			name: "times within tolerance tie",
			events: []*stubEvent{
				{name: "bucket", time: 0.5, kind: KindStep},
				{name: "latch", time: 0.30000000000000004 + 0.2, kind: KindLatch},
			},
			want: []string{"latch", "bucket"},
		},
		{
			// Pairwise within tolerance a~b and b~c but not a~c.
			name: "chained near times keep one consistent order",
			events: []*stubEvent{
				{name: "c", time: 1 + 1.6e-9, kind: KindLatch},
				{name: "b", time: 1 + 0.8e-9, kind: KindStep},
				{name: "a", time: 1, kind: KindStep},
			},
			want: []string{"a", "b", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a queue holding the events
			q := NewEventQueue(tt.stepFirst)
			for _, ev := range tt.events {
				q.Schedule(ev)
			}

			// WHEN draining it
			var got []string
			for ev := q.PopNext(); ev != nil; ev = q.PopNext() {
				got = append(got, ev.(*stubEvent).name)
			}

			// THEN events come out in the expected order
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventQueue_PeekAndEmpty(t *testing.T) {
	q := NewEventQueue(false)
	assert.Nil(t, q.Peek())
	assert.Nil(t, q.PopNext())

	ev := &stubEvent{name: "only", time: 3, kind: KindSpike}
	q.Schedule(ev)
	require.Equal(t, 1, q.Len())
	assert.Same(t, ev, q.Peek())
	assert.Equal(t, 1, q.Len(), "Peek must not remove")
	assert.Same(t, ev, q.PopNext())
	assert.Equal(t, 0, q.Len())
}

func TestSameTime(t *testing.T) {
	assert.True(t, sameTime(0.5, 0.5000000000000001))
	assert.True(t, sameTime(1e6, 1e6+1e-4), "tolerance is relative for large times")
	assert.False(t, sameTime(0.5, 0.5001))
	assert.False(t, sameTime(0, 1e-8))
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "step", KindStep.String())
	assert.Equal(t, "spike", KindSpike.String())
	assert.Equal(t, "latch", KindLatch.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}
