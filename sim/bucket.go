package sim

import (
	"github.com/sirupsen/logrus"
)

// StepEvent is a fixed-step bucket: every entity sharing one integration step
// lives on its handle list. The event re-enqueues itself at the next multiple of
// the step while the list is non-empty and is discarded once it empties.
type StepEvent struct {
	dt     float64
	start  float64
	passes int64
	time   float64

	head, tail Handle
	size       int
	scheduled  bool
	running    bool
}

// Timestamp returns the scheduled time of the bucket's next pass.
func (e *StepEvent) Timestamp() float64 { return e.time }

// Kind returns KindStep.
func (e *StepEvent) Kind() EventKind { return KindStep }

// Dt returns the bucket's step size.
func (e *StepEvent) Dt() float64 { return e.dt }

// Size returns the number of linked entities, including dead ones not yet swept.
func (e *StepEvent) Size() int { return e.size }

func (e *StepEvent) pushFront(a *arena, h Handle) {
	a.links[h] = link{next: e.head, prev: nilHandle}
	if e.head != nilHandle {
		a.links[e.head].prev = h
	} else {
		e.tail = h
	}
	e.head = h
	e.size++
}

func (e *StepEvent) unlink(a *arena, h Handle) {
	l := a.links[h]
	if l.prev != nilHandle {
		a.links[l.prev].next = l.next
	} else {
		e.head = l.next
	}
	if l.next != nilHandle {
		a.links[l.next].prev = l.prev
	} else {
		e.tail = l.prev
	}
	a.links[h] = link{next: nilHandle, prev: nilHandle}
	e.size--
}

// Execute runs integrate, update and finish over the list, then flushes deferred
// structural work and reschedules.
func (e *StepEvent) Execute(sim *Simulator) {
	e.scheduled = false
	e.running = true
	defer func() { e.running = false }()
	a := &sim.arena

	// Sweep entities that died since the last pass, then integrate the rest.
	for h := e.head; h != nilHandle; {
		next := a.links[h].next
		ent := a.get(h)
		if ent.state == StateDead {
			e.unlink(a, h)
			a.release(h)
			ent.bucket = nil
		}
		h = next
	}
	if e.size == 0 {
		sim.dropBucket(e)
		return
	}

	sim.inStepPass = true
	for h := e.head; h != nilHandle; h = a.links[h].next {
		a.get(h).integrate()
	}
	for h := e.head; h != nilHandle; h = a.links[h].next {
		a.get(h).update()
	}
	// Finish may move the current entity to another bucket or prepend new ones
	// here, so the successor is captured before each call.
	for h := e.head; h != nilHandle; {
		next := a.links[h].next
		ent := a.get(h)
		if ent.state != StateDead && !ent.finish() {
			ent.die()
		}
		h = next
	}
	sim.inStepPass = false
	sim.BucketPasses++
	sim.Metrics.bucketPass()

	if sim.Stopped() {
		// Fast exit: no flush, no reschedule, no further bookkeeping.
		return
	}
	sim.updatePopulations()

	e.passes++
	e.time = e.start + float64(e.passes)*e.dt
	sim.scheduleBucket(e)
}

// enqueue links e into the bucket for dt, creating the bucket when absent.
func (sim *Simulator) enqueue(e *Entity, dt float64) {
	if e.handle == nilHandle {
		sim.arena.alloc(e)
	}
	b := sim.buckets[dt]
	if b == nil {
		b = &StepEvent{dt: dt, start: sim.Clock, time: sim.Clock + dt, head: nilHandle, tail: nilHandle}
		b.passes = 1
		sim.buckets[dt] = b
		sim.Metrics.setBuckets(len(sim.buckets))
		logrus.Debugf("[t=%.6f] new bucket dt=%g", sim.Clock, dt)
	}
	b.pushFront(&sim.arena, e.handle)
	e.bucket = b
	e.dt = dt
	if !b.scheduled && !b.running {
		sim.scheduleBucket(b)
	}
}

func (sim *Simulator) scheduleBucket(b *StepEvent) {
	b.scheduled = true
	sim.Schedule(b)
}

// dropBucket forgets an empty bucket. A bucket for the same step may have been
// replaced in the table already, in which case the table is left alone.
func (sim *Simulator) dropBucket(b *StepEvent) {
	if sim.buckets[b.dt] == b {
		delete(sim.buckets, b.dt)
		sim.Metrics.setBuckets(len(sim.buckets))
	}
}

// RequestStepChange moves e to the bucket for dt. The old bucket keeps running
// until its next pass finds it empty.
func (sim *Simulator) RequestStepChange(e *Entity, dt float64) {
	if dt <= 0 || e.state == StateDead {
		return
	}
	if e.bucket != nil {
		if e.bucket.dt == dt {
			return
		}
		e.bucket.unlink(&sim.arena, e.handle)
		e.bucket = nil
	}
	sim.enqueue(e, dt)
}
