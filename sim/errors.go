package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by Init when the zero-time cycle already ran.
	ErrAlreadyInitialized = errors.New("simulation already initialized")
	// ErrNoStep is returned when neither the config nor the model gives a step.
	ErrNoStep = errors.New("base step must be positive")
)

// StructureError reports a violated model-structure invariant. The kernel raises
// it with panic from deep inside a pass; Init and Run recover it and return it.
type StructureError struct {
	Part   string
	Reason string
}

func (e *StructureError) Error() string {
	if e.Part == "" {
		return "model structure: " + e.Reason
	}
	return fmt.Sprintf("model structure: %s: %s", e.Part, e.Reason)
}

func structuref(part string, format string, args ...any) *StructureError {
	return &StructureError{Part: part, Reason: fmt.Sprintf(format, args...)}
}

// recoverStructure converts a StructureError panic into *err. Other panics
// propagate.
func recoverStructure(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if se, ok := r.(*StructureError); ok {
		*err = se
		return
	}
	panic(r)
}
