package model

// SlotKind names the buffer a slot lives in.
type SlotKind int

const (
	SlotFloat  SlotKind = iota // entity float buffer, read side
	SlotBuffer                 // entity float buffer, write side of a buffered variable
	SlotObject                 // entity boxed buffer
	SlotTemp                   // shared scratch buffer
)

func (k SlotKind) String() string {
	switch k {
	case SlotFloat:
		return "float"
	case SlotBuffer:
		return "buffer"
	case SlotObject:
		return "object"
	case SlotTemp:
		return "temp"
	}
	return "unknown"
}

// Slot is one (kind, offset) entry of a record layout.
type Slot struct {
	Name   string
	Kind   SlotKind
	Offset int
	Var    *Variable // nil for kernel-internal slots
}

// Layout is the record layout of one scope (local or global) of an equation set.
// It is computed once by Analyze and shared by every entity of that type.
type Layout struct {
	Slots   []Slot
	Floats  int
	Objects int
	Temps   int

	// Scratch holds temporaries. Execution is single-threaded, so one buffer per
	// layout is enough.
	Scratch []float64
}

func (l *Layout) add(name string, kind SlotKind, v *Variable) int {
	var offset int
	switch kind {
	case SlotFloat, SlotBuffer:
		offset = l.Floats
		l.Floats++
	case SlotObject:
		offset = l.Objects
		l.Objects++
	case SlotTemp:
		offset = l.Temps
		l.Temps++
	}
	l.Slots = append(l.Slots, Slot{Name: name, Kind: kind, Offset: offset, Var: v})
	return offset
}

// Find returns the first slot with the given name.
func (l *Layout) Find(name string) (Slot, bool) {
	for _, s := range l.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// NewStorage allocates storage sized exactly to the layout.
func (l *Layout) NewStorage() Storage {
	return Storage{
		Floats:  make([]float64, l.Floats),
		Objects: make([]any, l.Objects),
	}
}

// Storage is the flat per-entity record: numeric slots and boxed slots.
type Storage struct {
	Floats  []float64
	Objects []any
}

// Reset zeroes every slot.
func (s *Storage) Reset() {
	clear(s.Floats)
	clear(s.Objects)
}
