package sim

import (
	"container/heap"
	"math"
)

// EventKind tags events for ordering and metrics.
type EventKind int

const (
	KindStep  EventKind = iota // fixed-step bucket pass
	KindSpike                  // full pass for one or more targets
	KindLatch                  // latch bit only, no pass
)

func (k EventKind) String() string {
	switch k {
	case KindStep:
		return "step"
	case KindSpike:
		return "spike"
	case KindLatch:
		return "latch"
	}
	return "unknown"
}

// Event defines the interface for all simulation events.
// Each event has a Timestamp (in simulated seconds) and an Execute method
// that advances simulation state when invoked.
type Event interface {
	Timestamp() float64
	Kind() EventKind
	Execute(*Simulator)
}

// timeTolerance is the relative window inside which two timestamps are treated as
// equal. Bucket times and snapped spike times are computed along different float
// paths and must still tie-break deterministically.
const timeTolerance = 1e-9

func sameTime(a, b float64) bool {
	return math.Abs(a-b) <= timeTolerance*max(1, math.Abs(a), math.Abs(b))
}

// tick snaps t onto the timeTolerance grid. Equal ticks are an equivalence
// relation, which a pairwise tolerance test is not, so the heap orders by tick.
func tick(t float64) float64 { return math.Round(t / timeTolerance) }

// eventEntry wraps an Event with its snapped time and a sequence ID for
// deterministic FIFO tie-breaking when tick and kind rank are equal.
type eventEntry struct {
	event Event
	at    float64
	seqID int64
}

// EventQueue is a min-heap ordered by (tick of Timestamp, kind rank, seqID).
// Implements heap.Interface. Timestamps must not change while queued.
type EventQueue struct {
	entries   []eventEntry
	stepFirst bool
	nextSeq   int64
}

// NewEventQueue creates an empty queue. stepFirst ranks bucket events ahead of
// other kinds at equal time.
func NewEventQueue(stepFirst bool) *EventQueue {
	return &EventQueue{stepFirst: stepFirst}
}

func (q *EventQueue) Len() int { return len(q.entries) }

func (q *EventQueue) Less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	if a.at != b.at {
		return a.at < b.at
	}
	if ra, rb := q.rank(a.event), q.rank(b.event); ra != rb {
		return ra < rb
	}
	return a.seqID < b.seqID
}

func (q *EventQueue) rank(e Event) int {
	isStep := e.Kind() == KindStep
	if isStep == q.stepFirst {
		return 0
	}
	return 1
}

func (q *EventQueue) Swap(i, j int) { q.entries[i], q.entries[j] = q.entries[j], q.entries[i] }

func (q *EventQueue) Push(x any) {
	q.entries = append(q.entries, x.(eventEntry))
}

func (q *EventQueue) Pop() any {
	old := q.entries
	n := len(old)
	item := old[n-1]
	q.entries = old[:n-1]
	return item
}

// Schedule adds an event to the queue.
func (q *EventQueue) Schedule(e Event) {
	heap.Push(q, eventEntry{event: e, at: tick(e.Timestamp()), seqID: q.nextSeq})
	q.nextSeq++
}

// PopNext removes and returns the next event, or nil when empty.
func (q *EventQueue) PopNext() Event {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(eventEntry).event
}

// Peek returns the next event without removing it.
func (q *EventQueue) Peek() Event {
	if q.Len() == 0 {
		return nil
	}
	return q.entries[0].event
}
