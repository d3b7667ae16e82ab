package model

import (
	"bytes"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// The YAML format below is a small stand-in for the equation compiler. It covers
// constant, linear and uniform evaluators, which is enough to drive the kernel
// from the command line.

type modelSpec struct {
	Name     string     `yaml:"name"`
	Step     float64    `yaml:"step"`
	Duration float64    `yaml:"duration"`
	Seed     int64      `yaml:"seed"`
	Parts    []partSpec `yaml:"parts"`
}

type partSpec struct {
	Name      string         `yaml:"name"`
	Singleton bool           `yaml:"singleton"`
	N         *float64       `yaml:"n"`
	P         *float64       `yaml:"p"`
	Dt        *float64       `yaml:"dt"`
	Type      string         `yaml:"type"`
	Splits    [][]string     `yaml:"splits"`
	Position  *positionSpec  `yaml:"position"`
	Poll      *float64       `yaml:"poll"`
	Endpoints []endpointSpec `yaml:"endpoints"`
	Matrix    [][]float64    `yaml:"matrix"`
	Variables []variableSpec `yaml:"variables"`
	Events    []eventSpec    `yaml:"events"`
	Parts     []partSpec     `yaml:"parts"`
}

type endpointSpec struct {
	Alias  string  `yaml:"alias"`
	Part   string  `yaml:"part"`
	K      int     `yaml:"k"`
	Radius float64 `yaml:"radius"`
	Max    int     `yaml:"max"`
	Min    int     `yaml:"min"`
}

type positionSpec struct {
	Origin  []float64 `yaml:"origin"`
	Spacing []float64 `yaml:"spacing"`
}

type variableSpec struct {
	Name       string       `yaml:"name"`
	Global     bool         `yaml:"global"`
	Temporary  bool         `yaml:"temporary"`
	Buffered   bool         `yaml:"buffered"`
	External   bool         `yaml:"external"`
	Accumulate bool         `yaml:"accumulate"`
	Add        bool         `yaml:"add"`
	Default    float64      `yaml:"default"`
	Init       *float64     `yaml:"init"`
	Const      *float64     `yaml:"const"`
	Linear     *linearSpec  `yaml:"linear"`
	Uniform    *uniformSpec `yaml:"uniform"`
	Derivative string       `yaml:"derivative"`
	Trace      bool         `yaml:"trace"`
}

type linearSpec struct {
	Of     string  `yaml:"of"`
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

type uniformSpec struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

type eventSpec struct {
	Name      string  `yaml:"name"`
	Watch     string  `yaml:"watch"` // endpoint alias; empty watches the receiver itself
	Trigger   string  `yaml:"trigger"`
	Threshold float64 `yaml:"threshold"`
	Edge      string  `yaml:"edge"`
	Delay     float64 `yaml:"delay"`
	Var       string  `yaml:"var"`
	Each      bool    `yaml:"each"` // test the trigger per receiver
}

// LoadModel reads and analyzes a YAML model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes a YAML model with strict field checking and analyzes it.
func ParseModel(data []byte) (*Model, error) {
	var doc modelSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}

	b := &builder{specs: make(map[*EquationSet]*partSpec)}
	m := &Model{Name: doc.Name, Step: doc.Step, Duration: doc.Duration, Seed: doc.Seed}
	for i := range doc.Parts {
		s, err := b.declare(&doc.Parts[i], nil)
		if err != nil {
			return nil, err
		}
		m.Parts = append(m.Parts, s)
	}
	for _, s := range b.order {
		if err := b.link(s); err != nil {
			return nil, err
		}
	}
	if err := m.Analyze(); err != nil {
		return nil, err
	}
	return m, nil
}

type builder struct {
	specs   map[*EquationSet]*partSpec
	parents map[*EquationSet]*EquationSet
	order   []*EquationSet
}

// declare creates the part and its variables; references are resolved by link.
func (b *builder) declare(ps *partSpec, parent *EquationSet) (*EquationSet, error) {
	if ps.Name == "" {
		return nil, fmt.Errorf("part without a name")
	}
	s := &EquationSet{
		Name:       ps.Name,
		Singleton:  ps.Singleton,
		Connection: len(ps.Endpoints) > 0,
		Poll:       -1,
	}
	if ps.Poll != nil {
		s.Poll = *ps.Poll
	}
	b.specs[s] = ps
	if b.parents == nil {
		b.parents = make(map[*EquationSet]*EquationSet)
	}
	b.parents[s] = parent
	b.order = append(b.order, s)

	for _, vs := range ps.Variables {
		if s.Find(vs.Name) != nil {
			return nil, fmt.Errorf("part %s: duplicate variable %s", s.Name, vs.Name)
		}
		v := &Variable{
			Name:       vs.Name,
			Global:     vs.Global,
			Stored:     !vs.Temporary,
			Buffered:   vs.Buffered || vs.External,
			External:   vs.External,
			Accumulate: vs.Accumulate,
			Default:    vs.Default,
			Trace:      vs.Trace,
		}
		if vs.Add {
			v.Combine = CombineAdd
		}
		if vs.Init != nil {
			v.InitEval = Const(*vs.Init)
			v.Default = *vs.Init
		}
		if vs.Const != nil {
			v.Eval = Const(*vs.Const)
		}
		if vs.Uniform != nil {
			v.Eval = Uniform(vs.Uniform.Low, vs.Uniform.High)
		}
		if v.Global {
			s.Global = append(s.Global, v)
		} else {
			s.Local = append(s.Local, v)
		}
	}

	if ps.N != nil {
		s.N = &Variable{Name: "$n", Global: true, Stored: true, InitOnly: true, InitEval: Const(*ps.N)}
		s.Global = append(s.Global, s.N)
	}
	if ps.P != nil {
		s.P = &Variable{Name: "$p", Stored: true, Eval: Const(*ps.P), Default: 1}
		s.Local = append(s.Local, s.P)
	}
	if ps.Dt != nil {
		s.Dt = &Variable{Name: "$t'", Stored: true, Eval: Const(*ps.Dt)}
		s.Local = append(s.Local, s.Dt)
	}
	if ps.Position != nil {
		origin := pad3(ps.Position.Origin)
		spacing := pad3(ps.Position.Spacing)
		s.XYZ = &Variable{Name: "$xyz", Object: true, InitOnly: true}
		s.XYZ.ObjectEval = ObjectFunc(func(c Context) (any, bool) {
			i := float64(c.Index())
			return []float64{origin[0] + i*spacing[0], origin[1] + i*spacing[1], origin[2] + i*spacing[2]}, true
		})
		s.Local = append(s.Local, s.XYZ)
	}

	for i := range ps.Parts {
		c, err := b.declare(&ps.Parts[i], s)
		if err != nil {
			return nil, err
		}
		s.Parts = append(s.Parts, c)
	}
	return s, nil
}

// lookup finds a part by name among the siblings of s, then up the ancestors.
func (b *builder) lookup(s *EquationSet, name string) *EquationSet {
	for scope := b.parents[s]; ; scope = b.parents[scope] {
		var candidates []*EquationSet
		if scope == nil {
			for _, p := range b.order {
				if b.parents[p] == nil {
					candidates = append(candidates, p)
				}
			}
		} else {
			candidates = scope.Parts
		}
		for _, p := range candidates {
			if p.Name == name {
				return p
			}
		}
		if scope == nil {
			return nil
		}
	}
}

func (b *builder) link(s *EquationSet) error {
	ps := b.specs[s]
	for _, vs := range ps.Variables {
		v := s.Find(vs.Name)
		if vs.Derivative != "" {
			d := s.Find(vs.Derivative)
			if d == nil {
				return fmt.Errorf("part %s: derivative %s of %s not found", s.Name, vs.Derivative, v.Name)
			}
			v.Derivative = d
		}
		if vs.Linear != nil {
			of := s.Find(vs.Linear.Of)
			if of == nil {
				return fmt.Errorf("part %s: %s refers to unknown variable %s", s.Name, v.Name, vs.Linear.Of)
			}
			v.Eval = Linear(of, vs.Linear.Scale, vs.Linear.Offset)
		}
	}

	for _, es := range ps.Endpoints {
		target := b.lookup(s, es.Part)
		if target == nil {
			return fmt.Errorf("connection %s: endpoint part %s not found", s.Name, es.Part)
		}
		alias := es.Alias
		if alias == "" {
			alias = es.Part
		}
		s.Bindings = append(s.Bindings, &Binding{
			Alias: alias, Part: target, K: es.K, Radius: es.Radius, Max: es.Max, Min: es.Min,
		})
	}
	if len(ps.Matrix) > 0 {
		cols := len(ps.Matrix[0])
		data := make([]float64, 0, len(ps.Matrix)*cols)
		for _, row := range ps.Matrix {
			if len(row) != cols {
				return fmt.Errorf("connection %s: ragged matrix", s.Name)
			}
			data = append(data, row...)
		}
		s.Matrix = &ConnectionMatrix{Matrix: NewSparseMatrix(mat.NewDense(len(ps.Matrix), cols, data))}
	}

	if ps.Type != "" {
		s.Type = s.Find(ps.Type)
		if s.Type == nil || s.Type.Global {
			return fmt.Errorf("part %s: type variable %s not found", s.Name, ps.Type)
		}
	}
	for _, names := range ps.Splits {
		var targets []*EquationSet
		for _, n := range names {
			t := b.lookup(s, n)
			if t == nil {
				return fmt.Errorf("part %s: split target %s not found", s.Name, n)
			}
			targets = append(targets, t)
		}
		s.Splits = append(s.Splits, targets)
	}

	for _, es := range ps.Events {
		ev, err := b.event(s, es)
		if err != nil {
			return err
		}
		s.Events = append(s.Events, ev)
	}
	return nil
}

func (b *builder) event(s *EquationSet, es eventSpec) (*EventTarget, error) {
	ev := &EventTarget{Name: es.Name, Binding: -1}
	watched := s
	if es.Watch != "" {
		bd := s.Binding(es.Watch)
		if bd == nil {
			return nil, fmt.Errorf("event %s: %s is not an endpoint of %s", es.Name, es.Watch, s.Name)
		}
		ev.Binding = len(s.Bindings)
		for i, other := range s.Bindings {
			if other == bd {
				ev.Binding = i
			}
		}
		watched = bd.Part
	}
	trigger := watched.Find(es.Trigger)
	if trigger == nil {
		return nil, fmt.Errorf("event %s: trigger %s not found in %s", es.Name, es.Trigger, watched.Name)
	}
	threshold := es.Threshold
	ev.Reads = []*Variable{trigger}
	ev.TestEach = es.Each
	binding := ev.Binding
	ev.Trigger = EvalFunc(func(c Context) (float64, bool) {
		// Per-receiver tests run in the receiver's context and reach the watched
		// entity through its endpoint.
		if es.Each && binding >= 0 {
			if c = c.Endpoint(binding); c == nil {
				return 0, false
			}
		}
		if c.Get(trigger) > threshold {
			return 1, true
		}
		return 0, true
	})
	switch es.Edge {
	case "", "rise":
		ev.Edge = EdgeRise
	case "fall":
		ev.Edge = EdgeFall
	case "change":
		ev.Edge = EdgeChange
	case "nonzero":
		ev.Edge = EdgeNonzero
	default:
		return nil, fmt.Errorf("event %s: unknown edge %q", es.Name, es.Edge)
	}
	if es.Delay != 0 {
		ev.Delay = Const(es.Delay)
	}
	if es.Var != "" {
		ev.Var = s.Find(es.Var)
		if ev.Var == nil {
			return nil, fmt.Errorf("event %s: variable %s not found in %s", es.Name, es.Var, s.Name)
		}
	}
	return ev, nil
}

func pad3(v []float64) [3]float64 {
	var out [3]float64
	copy(out[:], v)
	return out
}
