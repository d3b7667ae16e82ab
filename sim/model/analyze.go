package model

import (
	"errors"
	"fmt"
)

// ErrAlreadyAnalyzed is returned when Analyze runs twice on the same model.
var ErrAlreadyAnalyzed = errors.New("model already analyzed")

// maxEvents is the number of latch bits available per receiving part.
const maxEvents = 64

// Analyze assigns storage to every variable, wires containment, connection
// accounting slots and event sources. Offsets are fixed afterwards.
func (m *Model) Analyze() error {
	if m.wrapper != nil {
		return ErrAlreadyAnalyzed
	}
	w := &EquationSet{Name: "$wrapper", Singleton: true, Parts: m.Parts}
	promoteTemporaries(m.Parts, make(map[*EquationSet]bool))
	if err := analyzePart(w, nil); err != nil {
		return err
	}

	var all []*EquationSet
	var collect func(s *EquationSet)
	collect = func(s *EquationSet) {
		all = append(all, s)
		for _, c := range s.Parts {
			collect(c)
		}
	}
	collect(w)

	for _, s := range all {
		if err := analyzeBindings(s); err != nil {
			return err
		}
	}
	for _, s := range all {
		if err := analyzeEvents(s); err != nil {
			return err
		}
	}
	for _, s := range all {
		s.LocalLayout.Scratch = make([]float64, s.LocalLayout.Temps)
		s.GlobalLayout.Scratch = make([]float64, s.GlobalLayout.Temps)
	}
	m.wrapper = w
	return nil
}

func analyzePart(s *EquationSet, container *EquationSet) error {
	if s.analyzed {
		return fmt.Errorf("part %s appears twice in the model", s.Name)
	}
	s.analyzed = true
	s.Container = container
	s.LocalLayout = &Layout{}
	s.GlobalLayout = &Layout{}
	s.populationSlot = -1

	if s.N != nil && !s.N.Global {
		return fmt.Errorf("part %s: $n must be global", s.Name)
	}
	for _, v := range []*Variable{s.P, s.Type, s.Dt, s.XYZ} {
		if v != nil && v.Global {
			return fmt.Errorf("part %s: %s must be local", s.Name, v.Name)
		}
	}
	if s.XYZ != nil && !s.XYZ.Object {
		return fmt.Errorf("part %s: %s must be an object variable", s.Name, s.XYZ.Name)
	}
	if s.Connection && len(s.Bindings) == 0 {
		return fmt.Errorf("connection %s has no endpoints", s.Name)
	}
	if !s.Connection && len(s.Bindings) > 0 {
		return fmt.Errorf("compartment %s declares endpoints", s.Name)
	}
	if s.Matrix != nil && len(s.Bindings) != 2 {
		return fmt.Errorf("connection %s: matrix connectivity needs exactly two endpoints", s.Name)
	}
	for i, targets := range s.Splits {
		for _, t := range targets {
			if t == nil {
				return fmt.Errorf("part %s: split %d has an empty target", s.Name, i+1)
			}
		}
	}

	for _, global := range []bool{false, true} {
		l := s.Layout(global)
		for _, v := range s.Variables(global) {
			if v.Global != global {
				return fmt.Errorf("part %s: variable %s listed in the wrong scope", s.Name, v.Name)
			}
			if err := assign(l, s, v); err != nil {
				return err
			}
		}
		for _, v := range s.Variables(global) {
			if v.Derivative != nil {
				if v.Object || !v.Stored {
					return fmt.Errorf("part %s: integrated variable %s must be stored", s.Name, v.Name)
				}
				if s.Find(v.Derivative.Name) != v.Derivative {
					return fmt.Errorf("part %s: derivative of %s belongs to another part", s.Name, v.Name)
				}
				if global {
					s.globalIntegrated = append(s.globalIntegrated, v)
				} else {
					s.localIntegrated = append(s.localIntegrated, v)
				}
			}
			if v.Buffered {
				switch {
				case v.External && global:
					s.globalExternal = append(s.globalExternal, v)
				case v.External:
					s.localExternal = append(s.localExternal, v)
				case global:
					s.globalInternal = append(s.globalInternal, v)
				default:
					s.localInternal = append(s.localInternal, v)
				}
			}
			if v.Trace && !v.Object {
				if global {
					s.globalTraced = append(s.globalTraced, v)
				} else {
					s.localTraced = append(s.localTraced, v)
				}
			}
		}
	}

	for _, c := range s.Parts {
		if err := analyzePart(c, s); err != nil {
			return err
		}
		c.populationSlot = s.LocalLayout.add("$population:"+c.Name, SlotObject, nil)
	}
	return nil
}

// promoteTemporaries stores every temporary that is read outside the update
// phase of its own entity: traced values, derivatives, $p, $type, $t' and event
// inputs. The scratch slot only holds the value of the last entity updated.
func promoteTemporaries(parts []*EquationSet, seen map[*EquationSet]bool) {
	for _, s := range parts {
		if seen[s] {
			continue
		}
		seen[s] = true
		keep := []*Variable{s.P, s.Type, s.Dt}
		for _, global := range []bool{false, true} {
			for _, v := range s.Variables(global) {
				if v.Trace {
					keep = append(keep, v)
				}
				if v.Derivative != nil {
					keep = append(keep, v.Derivative)
				}
			}
		}
		for _, ev := range s.Events {
			keep = append(keep, ev.Reads...)
		}
		for _, v := range keep {
			if v != nil && v.Temporary() {
				v.Stored = true
			}
		}
		promoteTemporaries(s.Parts, seen)
	}
}

func assign(l *Layout, s *EquationSet, v *Variable) error {
	if v.assigned {
		return fmt.Errorf("variable %s already has storage in part %s", v.Name, v.Part.Name)
	}
	switch {
	case v.Object:
		v.read = l.add(v.Name, SlotObject, v)
		v.write = v.read
	case v.Stored:
		v.read = l.add(v.Name, SlotFloat, v)
		v.write = v.read
		if v.Buffered {
			v.write = l.add(v.Name, SlotBuffer, v)
		}
	default:
		if v.Buffered {
			return fmt.Errorf("part %s: temporary %s cannot be buffered", s.Name, v.Name)
		}
		v.read = l.add(v.Name, SlotTemp, v)
		v.write = v.read
	}
	v.Part = s
	v.assigned = true
	return nil
}

func analyzeBindings(s *EquationSet) error {
	for i, b := range s.Bindings {
		if b.Part == nil {
			return fmt.Errorf("connection %s: endpoint %d has no part", s.Name, i)
		}
		if b.Part.Connection {
			return fmt.Errorf("connection %s: endpoint %s is itself a connection", s.Name, b.Alias)
		}
		b.Index = i
		b.countSlot = -1
		if b.Accountable() {
			b.countSlot = b.Part.LocalLayout.add("$count:"+s.Name+"."+b.Alias, SlotFloat, nil)
		}
	}
	return nil
}

func analyzeEvents(s *EquationSet) error {
	if len(s.Events) > maxEvents {
		return fmt.Errorf("part %s: %d events exceed the %d latch bits", s.Name, len(s.Events), maxEvents)
	}
	for i, ev := range s.Events {
		if ev.Part != nil && ev.Part != s {
			return fmt.Errorf("event %s is declared on %s but targets %s", ev.Name, s.Name, ev.Part.Name)
		}
		ev.Part = s
		if ev.Trigger == nil {
			return fmt.Errorf("event %s on %s has no trigger", ev.Name, s.Name)
		}
		switch {
		case ev.Binding < 0:
			ev.Binding = -1
			ev.Source = s
		case ev.Binding < len(s.Bindings):
			ev.Source = s.Bindings[ev.Binding].Part
		default:
			return fmt.Errorf("event %s on %s watches missing endpoint %d", ev.Name, s.Name, ev.Binding)
		}
		if ev.Var != nil && (ev.Var.Part != s || ev.Var.Global) {
			return fmt.Errorf("event %s: variable %s must be local to %s", ev.Name, ev.Var.Name, s.Name)
		}
		ev.bit = uint(i)
		if ev.TestEach {
			ev.historySlot = s.LocalLayout.add("$history:"+ev.Name, SlotFloat, nil)
		} else {
			ev.historySlot = ev.Source.LocalLayout.add("$history:"+s.Name+"."+ev.Name, SlotFloat, nil)
		}
		ev.sourceIndex = len(ev.Source.sources)
		ev.Source.sources = append(ev.Source.sources, ev)
		s.trackLastT = true
	}
	return nil
}
