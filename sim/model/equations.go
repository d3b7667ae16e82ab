package model

// EdgeKind selects which change of a trigger value fires an event.
type EdgeKind int

const (
	EdgeRise    EdgeKind = iota // zero to non-zero
	EdgeFall                    // non-zero to zero
	EdgeChange                  // any change
	EdgeNonzero                 // every pass the value is non-zero
)

// Binding is one endpoint slot of a connection type.
type Binding struct {
	Alias  string
	Part   *EquationSet
	K      int     // nearest-neighbor count, 0 = unlimited
	Radius float64 // search radius, 0 = unlimited
	Max    int     // connections per endpoint, 0 = unlimited
	Min    int     // connections forced while the endpoint is below this

	Index     int // position in the owning connection's Bindings
	countSlot int
}

// Accountable reports whether endpoints keep a connection count for this binding.
func (b *Binding) Accountable() bool { return b.Max > 0 || b.Min > 0 }

// Spatial reports whether candidates are filtered by distance.
func (b *Binding) Spatial() bool { return b.K > 0 || b.Radius > 0 }

// CountSlot is the float slot in the endpoint's local layout holding the number of
// live connections made through this binding, or -1.
func (b *Binding) CountSlot() int { return b.countSlot }

// EventTarget declares that entities of Part receive a spike when the trigger
// evaluated against a watched entity fires.
type EventTarget struct {
	Name    string
	Part    *EquationSet // receiving part
	Binding int          // -1 watches the receiving entity itself, else an endpoint index
	Trigger Evaluator
	Edge    EdgeKind
	Delay   Evaluator // nil = no delay; negative values mean timing does not matter
	// TestEach evaluates trigger and delay once per receiving entity. Otherwise they
	// are evaluated once against the watched entity and shared by all receivers.
	TestEach bool
	// Var, when set, reads 1 during a pass in which the event is latched.
	Var *Variable
	// Reads lists the watched entity's variables the trigger and delay depend on.
	// Analyze gives temporaries among them a stored slot.
	Reads []*Variable

	Source      *EquationSet // set by Analyze
	bit         uint
	historySlot int
	sourceIndex int
}

// Bit is the latch bit assigned to this event on the receiving part.
func (e *EventTarget) Bit() uint { return e.bit }

// HistorySlot is the float slot holding the last trigger value. It lives on the
// receiving part when TestEach is set, otherwise on the source part.
func (e *EventTarget) HistorySlot() int { return e.historySlot }

// SourceIndex is the index of this event's monitor list on source entities.
func (e *EventTarget) SourceIndex() int { return e.sourceIndex }

// ConnectionMatrix declares connectivity as an explicit adjacency matrix. Rows map
// to the first binding, columns to the second.
type ConnectionMatrix struct {
	Matrix *SparseMatrix
	Row    func(r int) int // matrix row to endpoint index; nil is identity
	Col    func(c int) int
	Value  *Variable // optional local variable receiving the matrix entry
}

// MapRow converts a matrix row to an endpoint index.
func (m *ConnectionMatrix) MapRow(r int) int {
	if m.Row == nil {
		return r
	}
	return m.Row(r)
}

// MapCol converts a matrix column to an endpoint index.
func (m *ConnectionMatrix) MapCol(c int) int {
	if m.Col == nil {
		return c
	}
	return m.Col(c)
}

// EquationSet is the compiled description of one part type.
type EquationSet struct {
	Name       string
	Parts      []*EquationSet
	Connection bool
	Singleton  bool
	Bindings   []*Binding
	Local      []*Variable // evaluation order
	Global     []*Variable

	N    *Variable // global: population size
	P    *Variable // local: survival probability (compartment) or creation probability (connection)
	Type *Variable // local: non-zero selects Splits[Type-1]
	Dt   *Variable // local: integration step
	XYZ  *Variable // local object: []float64 position

	Splits [][]*EquationSet
	Events []*EventTarget
	Poll   float64 // connection re-poll period: <0 new only, 0 every pass, >0 seconds
	Matrix *ConnectionMatrix

	// Set by Analyze.
	Container    *EquationSet
	LocalLayout  *Layout
	GlobalLayout *Layout

	sources          []*EventTarget
	populationSlot   int
	localIntegrated  []*Variable
	globalIntegrated []*Variable
	localExternal    []*Variable
	globalExternal   []*Variable
	localInternal    []*Variable
	globalInternal   []*Variable
	localTraced      []*Variable
	globalTraced     []*Variable
	trackLastT       bool
	analyzed         bool
}

// Sources lists events that watch entities of this part.
func (s *EquationSet) Sources() []*EventTarget { return s.sources }

// PopulationSlot is the object slot in the container's local layout holding the
// population of this part.
func (s *EquationSet) PopulationSlot() int { return s.populationSlot }

// Integrated lists integrated variables of the local or global scope.
func (s *EquationSet) Integrated(global bool) []*Variable {
	if global {
		return s.globalIntegrated
	}
	return s.localIntegrated
}

// ExternalBuffered lists buffered variables committed in finish.
func (s *EquationSet) ExternalBuffered(global bool) []*Variable {
	if global {
		return s.globalExternal
	}
	return s.localExternal
}

// InternalBuffered lists buffered variables committed right after update.
func (s *EquationSet) InternalBuffered(global bool) []*Variable {
	if global {
		return s.globalInternal
	}
	return s.localInternal
}

// Traced lists variables written to the trace stream.
func (s *EquationSet) Traced(global bool) []*Variable {
	if global {
		return s.globalTraced
	}
	return s.localTraced
}

// Variables returns the local or global variable list.
func (s *EquationSet) Variables(global bool) []*Variable {
	if global {
		return s.Global
	}
	return s.Local
}

// Layout returns the local or global layout.
func (s *EquationSet) Layout(global bool) *Layout {
	if global {
		return s.GlobalLayout
	}
	return s.LocalLayout
}

// TrackLastT reports whether entities integrate over the time elapsed since their
// last pass rather than over the bucket step. Parts receiving full-pass spikes need it.
func (s *EquationSet) TrackLastT() bool { return s.trackLastT }

// Find looks up a variable by name in both scopes.
func (s *EquationSet) Find(name string) *Variable {
	for _, v := range s.Local {
		if v.Name == name {
			return v
		}
	}
	for _, v := range s.Global {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Binding returns the binding with the given alias, or nil.
func (s *EquationSet) Binding(alias string) *Binding {
	for _, b := range s.Bindings {
		if b.Alias == alias {
			return b
		}
	}
	return nil
}

// Path returns the dotted containment path.
func (s *EquationSet) Path() string {
	if s.Container == nil || s.Container.Container == nil {
		return s.Name
	}
	return s.Container.Path() + "." + s.Name
}

// Model is the compiled input to the kernel.
type Model struct {
	Name     string
	Parts    []*EquationSet
	Step     float64 // base integration step
	Duration float64 // 0 runs until the queue drains
	Seed     int64

	wrapper *EquationSet
}

// Wrapper returns the synthesized root part whose children are the model's
// top-level parts. It is nil until Analyze succeeds.
func (m *Model) Wrapper() *EquationSet { return m.wrapper }
