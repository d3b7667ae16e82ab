package sim

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/popsim/popsim/sim/model"
	"github.com/popsim/popsim/sim/spatial"
)

// connector holds the state of one connection pass over a connection population.
type connector struct {
	pop      *Population
	bindings []*model.Binding
	order    []int         // binding indices, outermost first
	lists    [][]*Entity   // per binding: old members first, then newborns
	oldCount []int         // per binding
	trees    []*spatial.Tree
	all      bool            // poll-all: consider every tuple
	existing map[string]bool // tuples already connected
	tuple    []*Entity       // by binding index
	filtered [][]*Entity     // per depth: spatial candidates for the current outer entity
	created  int
}

// connect forms new connection instances among the members of the endpoint
// populations. In new-only mode only tuples with at least one newborn endpoint
// are tried.
func (p *Population) connect() {
	if len(p.endpoints) == 0 {
		return
	}
	all := p.pollAll
	p.pollAll = false
	if p.part.Matrix != nil {
		p.connectMatrix(all)
		return
	}

	bindings := p.part.Bindings
	c := &connector{
		pop:      p,
		bindings: bindings,
		lists:    make([][]*Entity, len(bindings)),
		oldCount: make([]int, len(bindings)),
		trees:    make([]*spatial.Tree, len(bindings)),
		all:      all,
		tuple:    make([]*Entity, len(bindings)),
		filtered: make([][]*Entity, len(bindings)),
	}
	anyNew := false
	for i, ep := range p.endpoints {
		var old, young []*Entity
		for _, m := range ep.members {
			switch {
			case m == nil || m.state == StateDead:
			case m.newborn:
				young = append(young, m)
			default:
				old = append(old, m)
			}
		}
		if len(old)+len(young) == 0 {
			return
		}
		anyNew = anyNew || len(young) > 0
		c.lists[i] = append(old, young...)
		c.oldCount[i] = len(old)
	}
	if !all && !anyNew {
		return
	}

	// Most old members outermost, so the new-only restriction on the innermost
	// binding prunes the most. Spatial bindings go inside a non-spatial one
	// that supplies the query center.
	c.order = make([]int, len(bindings))
	for i := range c.order {
		c.order[i] = i
	}
	sort.SliceStable(c.order, func(a, b int) bool {
		return c.oldCount[c.order[a]] > c.oldCount[c.order[b]]
	})
	sort.SliceStable(c.order, func(a, b int) bool {
		return !bindings[c.order[a]].Spatial() && bindings[c.order[b]].Spatial()
	})
	for depth, bi := range c.order {
		if depth > 0 && bindings[bi].Spatial() {
			c.trees[bi] = c.buildTree(bi)
		}
	}
	c.existing = p.existingTuples(all)

	c.walk(0, false)
	if c.created > 0 {
		logrus.Debugf("[t=%.6f] %s: %d connections formed", p.sim.Clock, p.Name(), c.created)
	}
}

func (c *connector) buildTree(bi int) *spatial.Tree {
	b := c.bindings[bi]
	if b.Part.XYZ == nil {
		panic(structuref(c.pop.Name(), "endpoint %s is spatially filtered but %s has no position", b.Alias, b.Part.Name))
	}
	points := make([]spatial.Point, 0, len(c.lists[bi]))
	for _, m := range c.lists[bi] {
		points = append(points, spatial.Point{Pos: position(m), Item: m})
	}
	return spatial.Build(points)
}

func position(e *Entity) []float64 {
	xyz := e.part.XYZ
	if xyz == nil {
		return nil
	}
	pos, _ := e.storage.Objects[xyz.ReadIndex()].([]float64)
	return pos
}

func (c *connector) walk(depth int, sawNew bool) {
	bi := c.order[depth]
	b := c.bindings[bi]
	last := depth == len(c.order)-1

	cands := c.lists[bi]
	if c.trees[bi] != nil {
		if c.filtered[depth] == nil {
			c.filtered[depth] = c.nearby(bi)
		}
		cands = c.filtered[depth]
	}
	for _, m := range cands {
		if m.state == StateDead {
			continue
		}
		if !c.all && last && !sawNew && !m.newborn {
			continue
		}
		if b.Max > 0 && m.storage.Floats[b.CountSlot()] >= float64(b.Max) {
			continue
		}
		c.tuple[bi] = m
		if depth == 0 {
			// New outer entity: spatial candidates are re-queried.
			clear(c.filtered)
		}
		if last {
			c.try()
		} else {
			c.walk(depth+1, sawNew || m.newborn)
		}
	}
	c.tuple[bi] = nil
}

// nearby queries the tree of binding bi around the outermost endpoint.
func (c *connector) nearby(bi int) []*Entity {
	b := c.bindings[bi]
	center := position(c.tuple[c.order[0]])
	found := c.trees[bi].Nearest(center, spatial.Query{K: b.K, Radius: b.Radius})
	out := make([]*Entity, 0, len(found))
	for _, n := range found {
		out = append(out, n.Item.(*Entity))
	}
	return out
}

func (c *connector) try() {
	if c.existing != nil && c.existing[tupleKey(c.tuple)] {
		return
	}
	if c.pop.tryConnect(c.tuple) {
		c.created++
	}
}

// tryConnect evaluates the creation probability for one endpoint tuple and
// creates the connection on success. A rejected candidate is kept for the next
// attempt.
func (p *Population) tryConnect(tuple []*Entity) bool {
	sim := p.sim
	cand := p.candidate
	if cand == nil {
		cand = sim.newEntity(KindConnection, p.part, p, p.container)
	} else {
		cand.storage.Reset()
	}
	copy(cand.endpoints, tuple)

	create := false
	for i, b := range p.part.Bindings {
		if b.Min > 0 && tuple[i].storage.Floats[b.CountSlot()] < float64(b.Min) {
			create = true
			break
		}
	}
	if !create {
		prob := 1.0
		if v := p.part.P; v != nil {
			eval := v.InitEval
			if eval == nil {
				eval = v.Eval
			}
			if eval != nil {
				if x, ok := eval.Evaluate(cand); ok {
					prob = x
				}
			}
		}
		switch {
		case prob <= 0:
		case prob >= 1:
			create = true
		default:
			create = sim.rng.ForSubsystem(SubsystemConnect).Float64() < prob
		}
	}
	if !create {
		p.candidate = cand
		return false
	}
	p.candidate = nil
	p.adopt(cand)
	return true
}

// adopt runs a connection candidate through insert, enqueue, resolve and init.
func (p *Population) adopt(e *Entity) {
	p.Insert(e)
	p.sim.enqueue(e, p.global.dt)
	e.resolve()
	e.init()
}

// connectMatrix walks the non-zero entries of the declared adjacency matrix.
func (p *Population) connectMatrix(all bool) {
	cm := p.part.Matrix
	rows, cols := p.endpoints[0], p.endpoints[1]
	existing := p.existingTuples(all)
	created := 0
	cm.Matrix.Do(func(r, col int, v float64) {
		a := rows.At(cm.MapRow(r))
		b := cols.At(cm.MapCol(col))
		if a == nil || b == nil || a.state == StateDead || b.state == StateDead {
			return
		}
		if !all && !a.newborn && !b.newborn {
			return
		}
		tuple := []*Entity{a, b}
		if existing != nil && existing[tupleKey(tuple)] {
			return
		}
		e := p.sim.newEntity(KindConnection, p.part, p, p.container)
		copy(e.endpoints, tuple)
		p.adopt(e)
		if cm.Value != nil {
			e.setBoth(cm.Value, v)
		}
		created++
	})
	if created > 0 {
		logrus.Debugf("[t=%.6f] %s: %d connections formed from matrix", p.sim.Clock, p.Name(), created)
	}
}

// existingTuples indexes live connections so a pass never duplicates one. A
// poll-all pass checks every member. A new-only pass only needs newborn
// connections: any earlier connection to a newborn endpoint was made after that
// endpoint's birth and is itself still newborn. Connections to a dead endpoint
// die in their own finish and do not count.
func (p *Population) existingTuples(all bool) map[string]bool {
	out := make(map[string]bool)
	for _, m := range p.members {
		if m == nil || m.state == StateDead || (!all && !m.newborn) || m.orphaned() {
			continue
		}
		out[tupleKey(m.endpoints)] = true
	}
	return out
}

// orphaned reports whether any endpoint of a connection has died.
func (e *Entity) orphaned() bool {
	for _, ep := range e.endpoints {
		if ep == nil || ep.state == StateDead {
			return true
		}
	}
	return false
}

// tupleKey identifies endpoints by entity, not index, since indices are reused.
func tupleKey(tuple []*Entity) string {
	var sb strings.Builder
	for i, e := range tuple {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(e.id, 10))
	}
	return sb.String()
}
