package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/popsim/popsim/sim/internal/testutil"
)

func listOrder(a *arena, b *StepEvent) []*Entity {
	var out []*Entity
	for h := b.head; h != nilHandle; h = a.links[h].next {
		out = append(out, a.get(h))
	}
	return out
}

func TestArena_ReleaseRecyclesHandle(t *testing.T) {
	// GIVEN an arena with two entities
	var a arena
	e1, e2, e3 := &Entity{}, &Entity{}, &Entity{}
	h1 := a.alloc(e1)
	a.alloc(e2)
	require.Equal(t, 2, a.live())

	// WHEN the first is released and a third allocated
	a.release(h1)
	h3 := a.alloc(e3)

	// THEN the freed handle is reused and the released entity no longer holds one
	assert.Equal(t, h1, h3)
	assert.Equal(t, nilHandle, e1.handle)
	assert.Same(t, e3, a.get(h3))
	assert.Equal(t, 2, a.live())
}

func TestStepEvent_PushFrontAndUnlink(t *testing.T) {
	// GIVEN a bucket holding three entities pushed in order
	var a arena
	b := &StepEvent{dt: 0.1, head: nilHandle, tail: nilHandle}
	ents := []*Entity{{index: 0}, {index: 1}, {index: 2}}
	for _, e := range ents {
		b.pushFront(&a, a.alloc(e))
	}
	require.Equal(t, []*Entity{ents[2], ents[1], ents[0]}, listOrder(&a, b))

	// WHEN the middle, head and tail are unlinked in turn
	b.unlink(&a, ents[1].handle)
	assert.Equal(t, []*Entity{ents[2], ents[0]}, listOrder(&a, b))
	b.unlink(&a, ents[2].handle)
	assert.Equal(t, []*Entity{ents[0]}, listOrder(&a, b))
	b.unlink(&a, ents[0].handle)

	// THEN the list is empty with consistent ends
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, nilHandle, b.head)
	assert.Equal(t, nilHandle, b.tail)
}

func TestRequestStepChange(t *testing.T) {
	// GIVEN three cells in the base bucket
	s := mustInit(t, testutil.NewModel("move", 0.1, 1, testutil.Compartment("cells", 3)))
	cell := population(t, s, "cells").At(0)
	base := cell.bucket
	before := base.Size()

	// WHEN one moves to a finer step
	s.RequestStepChange(cell, 0.02)

	// THEN it left the base list for a new bucket, aligned to the current clock
	assert.Equal(t, before-1, base.Size())
	require.NotNil(t, cell.bucket)
	assert.Equal(t, 0.02, cell.bucket.Dt())
	assert.InDelta(t, 0.02, cell.bucket.Timestamp(), 1e-12)
	assert.Equal(t, []float64{0.02, 0.1}, s.Buckets())

	// AND invalid or unchanged requests are ignored
	s.RequestStepChange(cell, 0)
	s.RequestStepChange(cell, 0.02)
	assert.Equal(t, 1, cell.bucket.Size())
}
