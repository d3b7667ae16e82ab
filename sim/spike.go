package sim

import (
	"math"

	"github.com/popsim/popsim/sim/model"
)

// snapTolerance is how close d/dt must be to an integer for a delay to snap onto
// the step grid.
const snapTolerance = 1e-6

// SpikeEvent runs a full integrate/update/finish pass for its targets at one
// time. It does not flush deferred work; the next bucket pass does.
type SpikeEvent struct {
	time    float64
	bit     uint
	targets []*Entity
}

// Timestamp returns the delivery time.
func (e *SpikeEvent) Timestamp() float64 { return e.time }

// Kind returns KindSpike.
func (e *SpikeEvent) Kind() EventKind { return KindSpike }

// Targets returns the receiving entities.
func (e *SpikeEvent) Targets() []*Entity { return e.targets }

// Execute latches the event bit and runs the three phases over live targets.
func (e *SpikeEvent) Execute(sim *Simulator) {
	live := e.targets[:0:0]
	for _, t := range e.targets {
		if t.state == StateActive {
			t.latch |= 1 << e.bit
			live = append(live, t)
		}
	}
	for _, t := range live {
		t.integrate()
	}
	for _, t := range live {
		t.update()
	}
	for _, t := range live {
		if t.state != StateDead && !t.finish() {
			t.die()
		}
	}
}

// LatchEvent only sets the event bit. The target sees it on its next pass.
type LatchEvent struct {
	time    float64
	bit     uint
	targets []*Entity
}

// Timestamp returns the latch time.
func (e *LatchEvent) Timestamp() float64 { return e.time }

// Kind returns KindLatch.
func (e *LatchEvent) Kind() EventKind { return KindLatch }

// Targets returns the receiving entities.
func (e *LatchEvent) Targets() []*Entity { return e.targets }

// Execute sets the event bit on live targets.
func (e *LatchEvent) Execute(sim *Simulator) {
	for _, t := range e.targets {
		if t.state == StateActive {
			t.latch |= 1 << e.bit
		}
	}
}

// spikeTiming maps a delay to a delivery time and event kind. Negative delays
// latch now, zero runs a pass now, a delay within tolerance of a positive
// multiple of dt snaps onto the grid (latching when raised inside a bucket
// pass), anything else runs a pass after exactly d.
func spikeTiming(now, d, dt float64, inStepPass bool) (float64, EventKind) {
	switch {
	case d < 0:
		return now, KindLatch
	case d == 0:
		return now, KindSpike
	}
	if dt > 0 {
		ratio := d / dt
		n := math.Round(ratio)
		if n >= 1 && math.Abs(ratio-n) < snapTolerance {
			t := now + n*dt
			if inStepPass {
				return t, KindLatch
			}
			return t, KindSpike
		}
	}
	return now + d, KindSpike
}

func (sim *Simulator) scheduleSpike(ev *model.EventTarget, targets []*Entity, d, dt float64) {
	t, kind := spikeTiming(sim.Clock, d, dt, sim.inStepPass)
	if kind == KindLatch {
		sim.Schedule(&LatchEvent{time: t, bit: ev.Bit(), targets: targets})
		return
	}
	sim.Schedule(&SpikeEvent{time: t, bit: ev.Bit(), targets: targets})
}

func fires(edge model.EdgeKind, before, after float64) bool {
	switch edge {
	case model.EdgeRise:
		return before == 0 && after != 0
	case model.EdgeFall:
		return before != 0 && after == 0
	case model.EdgeChange:
		return before != after
	case model.EdgeNonzero:
		return after != 0
	}
	return false
}

func delayOf(ev *model.EventTarget, c model.Context) float64 {
	if ev.Delay == nil {
		return 0
	}
	d, ok := ev.Delay.Evaluate(c)
	if !ok {
		return 0
	}
	return d
}

// fireEvents tests every event watching e and schedules deliveries to the
// entities on e's monitor lists. Target lists are copied so deaths before
// delivery do not disturb the scheduled event.
func (e *Entity) fireEvents() {
	for _, ev := range e.part.Sources() {
		monitors := e.monitors[ev.SourceIndex()]
		if ev.TestEach {
			e.fireEach(ev, monitors)
			continue
		}
		slot := ev.HistorySlot()
		before := e.storage.Floats[slot]
		after, ok := ev.Trigger.Evaluate(e)
		if !ok {
			continue
		}
		e.storage.Floats[slot] = after
		if !fires(ev.Edge, before, after) || len(monitors) == 0 {
			continue
		}
		targets := append([]*Entity(nil), monitors...)
		e.sim.scheduleSpike(ev, targets, delayOf(ev, e), e.dt)
	}
}

// fireEach evaluates the trigger per receiver and batches receivers sharing a
// delay into one event.
func (e *Entity) fireEach(ev *model.EventTarget, monitors []*Entity) {
	var delays []float64
	groups := make(map[float64][]*Entity)
	slot := ev.HistorySlot()
	for _, t := range monitors {
		if t.state == StateDead {
			continue
		}
		before := t.storage.Floats[slot]
		after, ok := ev.Trigger.Evaluate(t)
		if !ok {
			continue
		}
		t.storage.Floats[slot] = after
		if !fires(ev.Edge, before, after) {
			continue
		}
		d := delayOf(ev, t)
		if _, seen := groups[d]; !seen {
			delays = append(delays, d)
		}
		groups[d] = append(groups[d], t)
	}
	for _, d := range delays {
		e.sim.scheduleSpike(ev, groups[d], d, e.dt)
	}
}
