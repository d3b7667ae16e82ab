package sim

import (
	"github.com/popsim/popsim/sim/model"
)

// split replaces e with instances of the parts listed in its split choice. It
// returns true when e's own part is among them, i.e. e lives on.
func (sim *Simulator) split(e *Entity, choice int) bool {
	splits := e.part.Splits
	if choice < 1 || choice > len(splits) {
		panic(structuref(e.part.Path(), "$type %d selects no split (have %d)", choice, len(splits)))
	}
	keep := false
	for _, target := range splits[choice-1] {
		if target == e.part {
			keep = true
			continue
		}
		if target.Connection != e.part.Connection {
			panic(structuref(e.part.Path(), "cannot convert %s into %s: compartment and connection types differ", e.part.Name, target.Name))
		}
		pop := e.findPopulation(target)
		if pop == nil {
			panic(structuref(e.part.Path(), "split target %s has no population in scope", target.Name))
		}
		n := sim.newEntity(e.kind, target, pop, pop.container)
		if e.kind == KindConnection {
			for i, b := range target.Bindings {
				src := e.part.Binding(b.Alias)
				if src == nil || src.Part != b.Part {
					panic(structuref(e.part.Path(), "split into %s leaves endpoint %s unbound", target.Name, b.Alias))
				}
				n.endpoints[i] = e.endpoints[src.Index]
			}
		}
		pop.Insert(n)
		sim.enqueue(n, e.dt)
		n.resolve()
		n.init()
		copyShared(e, n)
	}
	return keep
}

// findPopulation looks up the population of part visible from e: a child of
// the nearest container whose part declares it.
func (e *Entity) findPopulation(part *model.EquationSet) *Population {
	for c := e.container; c != nil; c = c.container {
		if c.part == part.Container {
			return c.child(part)
		}
	}
	return nil
}

// copyShared carries stored local values over to a split product by name.
func copyShared(from, to *Entity) {
	for _, v := range to.part.Local {
		if v.Object || !v.Stored || v == to.part.Type {
			continue
		}
		src := from.part.Find(v.Name)
		if src == nil || src.Global || src.Object || !src.Stored {
			continue
		}
		to.setBoth(v, from.Get(src))
	}
}
