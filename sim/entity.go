package sim

import (
	"fmt"
	"math/rand"

	"github.com/popsim/popsim/sim/model"
)

// EntityKind tags the variant of an Entity. Lifecycle operations dispatch on it.
type EntityKind int

const (
	KindCompartment EntityKind = iota
	KindConnection
	KindGlobal  // population-level storage and equations
	KindWrapper // root container holding the top-level populations
)

func (k EntityKind) String() string {
	switch k {
	case KindCompartment:
		return "compartment"
	case KindConnection:
		return "connection"
	case KindGlobal:
		return "global"
	case KindWrapper:
		return "wrapper"
	}
	return "unknown"
}

// EntityState represents the lifecycle state of an entity.
type EntityState string

const (
	StateConstructed EntityState = "constructed"
	StateResolved    EntityState = "resolved"
	StateActive      EntityState = "active"
	StateDead        EntityState = "dead"
)

// Entity is one simulated instance. All variable values live in flat storage laid
// out by the part's record layout.
type Entity struct {
	sim       *Simulator
	kind      EntityKind
	part      *model.EquationSet
	layout    *model.Layout
	pop       *Population // owning population; for KindGlobal the population it carries
	container *Entity
	id        uint64 // unique for the life of the simulator; indices are recycled
	index     int
	state     EntityState
	storage   model.Storage

	endpoints []*Entity   // connections only
	monitors  [][]*Entity // per event source of this part: receivers watching this entity

	handle  Handle
	bucket  *StepEvent
	dt      float64
	lastT   float64
	latch   uint64
	newborn bool
}

func (sim *Simulator) newEntity(kind EntityKind, part *model.EquationSet, pop *Population, container *Entity) *Entity {
	layout := part.LocalLayout
	if kind == KindGlobal {
		layout = part.GlobalLayout
	}
	sim.lastID++
	e := &Entity{
		sim:       sim,
		id:        sim.lastID,
		kind:      kind,
		part:      part,
		layout:    layout,
		pop:       pop,
		container: container,
		index:     -1,
		state:     StateConstructed,
		storage:   layout.NewStorage(),
		handle:    nilHandle,
	}
	if kind == KindConnection {
		e.endpoints = make([]*Entity, len(part.Bindings))
	}
	if kind != KindGlobal && len(part.Sources()) > 0 {
		e.monitors = make([][]*Entity, len(part.Sources()))
	}
	return e
}

// Kind returns the entity variant.
func (e *Entity) Kind() EntityKind { return e.kind }

// Part returns the entity's equation set.
func (e *Entity) Part() *model.EquationSet { return e.part }

// State returns the lifecycle state.
func (e *Entity) State() EntityState { return e.state }

// Alive reports whether the entity has not died.
func (e *Entity) Alive() bool { return e.state != StateDead }

// Newborn reports whether the entity was created since its population last
// cleared the newborn flag.
func (e *Entity) Newborn() bool { return e.newborn }

// Population returns the owning population.
func (e *Entity) Population() *Population { return e.pop }

// Endpoints returns the bound entities of a connection.
func (e *Entity) Endpoints() []*Entity { return e.endpoints }

// Storage exposes the raw record.
func (e *Entity) Storage() *model.Storage { return &e.storage }

// Label names the entity in traces and diagnostics.
func (e *Entity) Label() string {
	switch e.kind {
	case KindWrapper:
		return "$wrapper"
	case KindGlobal:
		return e.part.Path()
	}
	if e.part.Singleton {
		return e.part.Path()
	}
	return fmt.Sprintf("%s[%d]", e.part.Path(), e.index)
}

func (e *Entity) global() bool { return e.kind == KindGlobal }

// === model.Context ===

// scope returns the entity whose storage holds v.
func (e *Entity) scope(v *model.Variable) *Entity {
	if v.Global && !e.global() && e.pop != nil {
		return e.pop.global
	}
	return e
}

func (e *Entity) Get(v *model.Variable) float64 {
	s := e.scope(v)
	if v.Temporary() {
		return s.layout.Scratch[v.ReadIndex()]
	}
	return s.storage.Floats[v.ReadIndex()]
}

func (e *Entity) Set(v *model.Variable, x float64) {
	s := e.scope(v)
	if v.Temporary() {
		s.layout.Scratch[v.WriteIndex()] = x
		return
	}
	s.storage.Floats[v.WriteIndex()] = x
}

func (e *Entity) Add(v *model.Variable, x float64) {
	s := e.scope(v)
	if v.Temporary() {
		s.layout.Scratch[v.WriteIndex()] += x
		return
	}
	s.storage.Floats[v.WriteIndex()] += x
}

func (e *Entity) Object(v *model.Variable) any {
	s := e.scope(v)
	return s.storage.Objects[v.ReadIndex()]
}

func (e *Entity) Time() float64 { return e.sim.Clock }

func (e *Entity) Dt() float64 { return e.dt }

func (e *Entity) Index() int { return e.index }

func (e *Entity) Count() int {
	if e.pop == nil {
		return 0
	}
	return e.pop.n
}

func (e *Entity) Rand() *rand.Rand { return e.sim.rng.ForSubsystem(SubsystemModel) }

func (e *Entity) Endpoint(i int) model.Context {
	if i < 0 || i >= len(e.endpoints) || e.endpoints[i] == nil {
		return nil
	}
	return e.endpoints[i]
}

func (e *Entity) Container() model.Context {
	if e.container == nil {
		return nil
	}
	return e.container
}

func (e *Entity) Global() model.Context {
	if e.pop == nil || e.pop.global == nil {
		return nil
	}
	return e.pop.global
}

// setBoth writes the read slot and, for buffered variables, the write slot.
func (e *Entity) setBoth(v *model.Variable, x float64) {
	if v.Temporary() {
		e.layout.Scratch[v.ReadIndex()] = x
		return
	}
	e.storage.Floats[v.ReadIndex()] = x
	if v.Buffered {
		e.storage.Floats[v.WriteIndex()] = x
	}
}

// === lifecycle ===

// resolve binds external references: monitor registration and connection
// accounting for instances, endpoint populations for globals.
func (e *Entity) resolve() {
	switch e.kind {
	case KindCompartment, KindConnection:
		for _, ev := range e.part.Events {
			src := e
			if ev.Binding >= 0 {
				src = e.endpoints[ev.Binding]
			}
			src.monitors[ev.SourceIndex()] = append(src.monitors[ev.SourceIndex()], e)
		}
		if e.kind == KindConnection {
			for i, b := range e.part.Bindings {
				if b.Accountable() {
					e.endpoints[i].storage.Floats[b.CountSlot()]++
				}
			}
		}
	case KindGlobal:
		e.pop.resolve()
	}
	e.state = StateResolved
}

// init evaluates initial values for every variable and performs kind-specific
// setup. The entity is already linked into a bucket.
func (e *Entity) init() {
	e.lastT = e.sim.Clock
	global := e.global()
	for _, v := range e.part.Variables(global) {
		if v.Object {
			if v.ObjectEval != nil {
				if o, ok := v.ObjectEval.EvaluateObject(e); ok {
					e.storage.Objects[v.ReadIndex()] = o
				}
			}
			continue
		}
		eval := v.InitEval
		if eval == nil {
			eval = v.Eval
		}
		x := v.Default
		if eval != nil {
			if r, ok := eval.Evaluate(e); ok {
				x = r
			}
		}
		e.setBoth(v, x)
		if v.External && v.Combine == model.CombineAdd {
			e.storage.Floats[v.WriteIndex()] = 0
		}
	}

	switch e.kind {
	case KindCompartment, KindWrapper:
		e.createChildren()
	case KindGlobal:
		e.pop.init()
	}
	e.state = StateActive

	if dtVar := e.part.Dt; dtVar != nil && !global {
		if dt := e.Get(dtVar); dt > 0 && dt != e.dt {
			e.sim.RequestStepChange(e, dt)
		}
	}
	e.sim.Metrics.created(e)
}

// createChildren builds one population per contained part. Every population
// object exists before any global is resolved so sibling connections can find
// their endpoints.
func (e *Entity) createChildren() {
	pops := make([]*Population, 0, len(e.part.Parts))
	for _, child := range e.part.Parts {
		p := newPopulation(e.sim, child, e)
		e.storage.Objects[child.PopulationSlot()] = p
		pops = append(pops, p)
	}
	for _, p := range pops {
		g := p.global
		e.sim.enqueue(g, e.dt)
		g.resolve()
		g.init()
	}
}

// child returns the population of part contained directly in e, or nil.
func (e *Entity) child(part *model.EquationSet) *Population {
	if part.Container != e.part || part.PopulationSlot() < 0 {
		return nil
	}
	p, _ := e.storage.Objects[part.PopulationSlot()].(*Population)
	return p
}

// Children returns the populations contained in e.
func (e *Entity) Children() []*Population {
	var out []*Population
	for _, c := range e.part.Parts {
		if p := e.child(c); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (e *Entity) integrate() {
	dt := e.dt
	if e.part.TrackLastT() && !e.global() {
		dt = e.sim.Clock - e.lastT
	}
	e.lastT = e.sim.Clock
	if dt <= 0 {
		return
	}
	for _, v := range e.part.Integrated(e.global()) {
		x := e.Get(v) + e.Get(v.Derivative)*dt
		e.setBoth(v, x)
	}
}

func (e *Entity) update() {
	global := e.global()
	if !global {
		for _, ev := range e.part.Events {
			if ev.Var == nil {
				continue
			}
			if e.latch&(1<<ev.Bit()) != 0 {
				e.Set(ev.Var, 1)
			} else {
				e.Set(ev.Var, 0)
			}
		}
	}
	for _, v := range e.part.Variables(global) {
		if v.InitOnly {
			continue
		}
		if v.Object {
			if v.ObjectEval != nil {
				if o, ok := v.ObjectEval.EvaluateObject(e); ok {
					e.storage.Objects[v.ReadIndex()] = o
				}
			}
			continue
		}
		if v.Eval == nil {
			continue
		}
		x, ok := v.Eval.Evaluate(e)
		if !ok {
			if v.Accumulate {
				x = e.Get(v)
			} else {
				x = v.Default
			}
		}
		e.Set(v, x)
	}
	for _, v := range e.part.InternalBuffered(global) {
		e.storage.Floats[v.ReadIndex()] = e.storage.Floats[v.WriteIndex()]
	}
}

// finish commits external writes, fires monitors and checks every lethal
// condition. It returns false when the entity must die.
func (e *Entity) finish() bool {
	global := e.global()
	for _, v := range e.part.ExternalBuffered(global) {
		e.storage.Floats[v.ReadIndex()] = e.storage.Floats[v.WriteIndex()]
		if v.Combine == model.CombineAdd {
			e.storage.Floats[v.WriteIndex()] = 0
		}
	}
	e.trace()

	switch e.kind {
	case KindWrapper:
		return true
	case KindGlobal:
		return e.pop.finish()
	}

	e.fireEvents()
	e.latch = 0

	if e.container != nil && e.container.state == StateDead {
		return false
	}
	for _, ep := range e.endpoints {
		if ep.state == StateDead {
			return false
		}
	}
	if p := e.part.P; p != nil && e.kind == KindCompartment {
		x := e.Get(p)
		if x <= 0 {
			return false
		}
		if x < 1 && e.sim.rng.ForSubsystem(SubsystemMortality).Float64() >= x {
			return false
		}
	}
	if t := e.part.Type; t != nil {
		if choice := int(e.Get(t)); choice != 0 {
			e.setBoth(t, 0)
			if !e.sim.split(e, choice) {
				return false
			}
		}
	}
	if dtVar := e.part.Dt; dtVar != nil {
		if dt := e.Get(dtVar); dt > 0 && dt != e.dt {
			e.sim.RequestStepChange(e, dt)
		}
	}
	return true
}

func (e *Entity) trace() {
	if e.sim.Trace == nil {
		return
	}
	traced := e.part.Traced(e.global())
	if len(traced) == 0 {
		return
	}
	label := e.Label()
	for _, v := range traced {
		e.sim.Trace.Record(e.sim.Clock, label, v.Name, e.Get(v))
	}
}

// die releases the entity from its population and from the monitor lists it
// joined. Bucket removal happens on the bucket's next sweep.
func (e *Entity) die() {
	if e.state == StateDead {
		return
	}
	e.state = StateDead
	switch e.kind {
	case KindCompartment, KindConnection:
		e.pop.Remove(e)
		for _, ev := range e.part.Events {
			src := e
			if ev.Binding >= 0 {
				src = e.endpoints[ev.Binding]
			}
			src.monitors[ev.SourceIndex()] = removeEntity(src.monitors[ev.SourceIndex()], e)
		}
		if e.kind == KindConnection {
			for i, b := range e.part.Bindings {
				if b.Accountable() {
					e.endpoints[i].storage.Floats[b.CountSlot()]--
				}
			}
		}
	case KindGlobal:
		e.pop.dead = true
	}
	e.sim.Metrics.died(e)
}

// removeEntity deletes e from list keeping order.
func removeEntity(list []*Entity, e *Entity) []*Entity {
	for i, x := range list {
		if x == e {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}
