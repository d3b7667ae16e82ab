package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/popsim/popsim/sim/model"
)

// Population owns the instances of one part inside one container entity, plus
// the global entity carrying population-level variables.
type Population struct {
	sim       *Simulator
	part      *model.EquationSet
	container *Entity
	global    *Entity

	members   []*Entity // by index; nil for free indices
	n         int
	nextIndex int
	recycled  []int

	dependents []*Population // connection populations binding this one
	endpoints  []*Population // connection populations: one per binding
	candidate  *Entity       // rejected connection reused by the next attempt
	pollAll    bool
	nextPoll   float64
	dead       bool

	resizeQueued  bool
	resizeTarget  int
	connectQueued bool
	clearQueued   bool
}

func newPopulation(sim *Simulator, part *model.EquationSet, container *Entity) *Population {
	p := &Population{sim: sim, part: part, container: container}
	p.global = sim.newEntity(KindGlobal, part, p, container)
	return p
}

// Name returns the dotted path of the population's part.
func (p *Population) Name() string { return p.part.Path() }

// Part returns the population's equation set.
func (p *Population) Part() *model.EquationSet { return p.part }

// Count returns the number of live members.
func (p *Population) Count() int { return p.n }

// Global returns the population-level entity.
func (p *Population) Global() *Entity { return p.global }

// At returns the member holding index i, or nil.
func (p *Population) At(i int) *Entity {
	if i < 0 || i >= len(p.members) {
		return nil
	}
	return p.members[i]
}

// Members returns the live members in index order.
func (p *Population) Members() []*Entity {
	out := make([]*Entity, 0, p.n)
	for _, m := range p.members {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Alive reports whether the population can still hold members.
func (p *Population) Alive() bool {
	return !p.dead && (p.container == nil || p.container.state != StateDead)
}

// Insert assigns e an index, recycled indices first, and marks it newborn.
func (p *Population) Insert(e *Entity) {
	var idx int
	if k := len(p.recycled); k > 0 {
		idx = p.recycled[k-1]
		p.recycled = p.recycled[:k-1]
	} else {
		idx = p.nextIndex
		p.nextIndex++
	}
	for len(p.members) <= idx {
		p.members = append(p.members, nil)
	}
	if p.members[idx] != nil {
		panic(structuref(p.Name(), "index %d issued twice", idx))
	}
	e.index = idx
	e.newborn = true
	p.members[idx] = e
	p.n++
	p.syncN()
	p.sim.Metrics.addLive(p.Name(), 1)

	for _, dep := range p.dependents {
		p.sim.DeferConnect(dep)
	}
	p.sim.DeferClearNew(p)
}

// Remove releases e's index for reuse.
func (p *Population) Remove(e *Entity) {
	if p.n <= 0 {
		panic(structuref(p.Name(), "live count would go negative"))
	}
	if e.index >= 0 && e.index < len(p.members) && p.members[e.index] == e {
		p.members[e.index] = nil
		p.recycled = append(p.recycled, e.index)
	}
	p.n--
	p.syncN()
	p.sim.Metrics.addLive(p.Name(), -1)
}

// syncN mirrors the live count into $n unless an update equation owns it.
func (p *Population) syncN() {
	if v := p.part.N; v != nil && v.Eval == nil {
		p.global.storage.Floats[v.ReadIndex()] = float64(p.n)
	}
}

// Resize grows or shrinks the population to target live members. Growth runs
// the full construct, enqueue, resolve, init sequence. Shrinking kills members
// from the highest index down.
func (p *Population) Resize(target int) {
	if p.part.Connection {
		panic(structuref(p.Name(), "connection populations cannot be resized"))
	}
	if target < 0 {
		logrus.Warnf("[t=%.6f] %s: resize to %d clamped to 0", p.sim.Clock, p.Name(), target)
		target = 0
	}
	if p.part.Singleton && target > 1 {
		target = 1
	}
	for p.n < target {
		p.spawn()
	}
	for i := len(p.members) - 1; i >= 0 && p.n > target; i-- {
		if m := p.members[i]; m != nil && m.state != StateDead {
			m.die()
		}
	}
	if p.n != target {
		panic(structuref(p.Name(), "resize to %d left %d live members", target, p.n))
	}
}

func (p *Population) spawn() *Entity {
	e := p.sim.newEntity(KindCompartment, p.part, p, p.container)
	p.Insert(e)
	p.sim.enqueue(e, p.global.dt)
	e.resolve()
	e.init()
	return e
}

// ClearNew drops the newborn flag from every member.
func (p *Population) ClearNew() {
	for _, m := range p.members {
		if m != nil {
			m.newborn = false
		}
	}
}

// resolve binds a connection population to the populations of its endpoints,
// searching up the container chain.
func (p *Population) resolve() {
	if !p.part.Connection {
		return
	}
	p.endpoints = make([]*Population, len(p.part.Bindings))
	for i, b := range p.part.Bindings {
		ep := p.global.findPopulation(b.Part)
		if ep == nil {
			panic(structuref(p.Name(), "endpoint %s: no population of %s in scope", b.Alias, b.Part.Name))
		}
		p.endpoints[i] = ep
		ep.dependents = append(ep.dependents, p)
	}
}

// init queues the initial structural work: a resize to the initial $n for
// compartments, a full connect for connections.
func (p *Population) init() {
	if p.part.Connection {
		p.pollAll = true
		if p.part.Poll > 0 {
			p.nextPoll = p.sim.Clock + p.part.Poll
		}
		p.sim.DeferConnect(p)
		return
	}
	target := 1
	if v := p.part.N; v != nil && !p.part.Singleton {
		target = int(math.Round(p.global.Get(v)))
	}
	p.sim.DeferResize(p, target)
}

// finish is the global entity's end-of-pass check.
func (p *Population) finish() bool {
	if p.container != nil && p.container.state == StateDead {
		return false
	}
	if v := p.part.N; v != nil && v.Eval != nil && !p.part.Connection && !p.part.Singleton {
		if target := int(math.Round(p.global.Get(v))); target != p.n {
			p.sim.DeferResize(p, target)
		}
	}
	if p.part.Connection {
		switch poll := p.part.Poll; {
		case poll == 0:
			p.pollAll = true
			p.sim.DeferConnect(p)
		case poll > 0 && p.sim.Clock >= p.nextPoll-timeTolerance:
			p.pollAll = true
			p.nextPoll = p.sim.Clock + poll
			p.sim.DeferConnect(p)
		}
	}
	return true
}
