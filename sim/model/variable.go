package model

import (
	"fmt"
	"math/rand"
)

// Combiner controls how values written into a buffered slot are merged.
type Combiner int

const (
	CombineReplace Combiner = iota // last write wins
	CombineAdd                     // writes accumulate; slot resets after commit
)

// Variable is one compiled quantity of an equation set. The compiler decides the
// storage class (stored, buffered, temporary, object). Analyze only promotes
// temporaries read after update to stored, and assigns offsets exactly once.
type Variable struct {
	Name       string
	Global     bool    // population-level rather than entity-level
	Stored     bool    // persists between passes; otherwise a scratch temporary
	Buffered   bool    // separate write slot (cyclic dependency or external writers)
	External   bool    // buffered value is written by other entities, committed in finish
	Object     bool    // boxed slot (matrices, position vectors, lists)
	InitOnly   bool    // evaluated only during init
	Accumulate bool    // a miss keeps the prior value instead of Default
	Combine    Combiner
	Default    float64
	Trace      bool

	Derivative *Variable // non-nil for integrated variables

	Eval       Evaluator       // update equation; nil means no update
	InitEval   Evaluator       // init equation; nil falls back to Eval
	ObjectEval ObjectEvaluator // for Object variables

	Part *EquationSet // set by Analyze

	read     int
	write    int
	assigned bool
}

// ReadIndex returns the slot the variable is read from, or -1 before analysis.
func (v *Variable) ReadIndex() int {
	if !v.assigned {
		return -1
	}
	return v.read
}

// WriteIndex returns the slot the variable is written to. For unbuffered
// variables it equals ReadIndex.
func (v *Variable) WriteIndex() int {
	if !v.assigned {
		return -1
	}
	return v.write
}

// Temporary reports whether the variable lives in the shared scratch buffer.
func (v *Variable) Temporary() bool { return !v.Stored && !v.Object }

// Integrated reports whether the variable is advanced by its derivative.
func (v *Variable) Integrated() bool { return v.Derivative != nil }

func (v *Variable) String() string {
	scope := "local"
	if v.Global {
		scope = "global"
	}
	return fmt.Sprintf("%s(%s r=%d w=%d)", v.Name, scope, v.ReadIndex(), v.WriteIndex())
}

// Context is the view an evaluator gets of the entity it runs against.
type Context interface {
	Get(v *Variable) float64
	Set(v *Variable, x float64)
	Add(v *Variable, x float64)
	Object(v *Variable) any
	Time() float64
	Dt() float64
	Index() int
	Count() int
	Rand() *rand.Rand
	Endpoint(i int) Context
	Container() Context
	Global() Context
}

// Evaluator computes a variable's value. ok=false means no condition applied
// and the kernel falls back to the prior value or the default.
type Evaluator interface {
	Evaluate(c Context) (x float64, ok bool)
}

// EvalFunc adapts a function to Evaluator.
type EvalFunc func(c Context) (float64, bool)

func (f EvalFunc) Evaluate(c Context) (float64, bool) { return f(c) }

// ObjectEvaluator computes a boxed value.
type ObjectEvaluator interface {
	EvaluateObject(c Context) (any, bool)
}

// ObjectFunc adapts a function to ObjectEvaluator.
type ObjectFunc func(c Context) (any, bool)

func (f ObjectFunc) EvaluateObject(c Context) (any, bool) { return f(c) }

// Const returns an evaluator that always yields x.
func Const(x float64) Evaluator {
	return EvalFunc(func(Context) (float64, bool) { return x, true })
}

// Linear returns scale*of + offset, reading of from the evaluating context.
func Linear(of *Variable, scale, offset float64) Evaluator {
	return EvalFunc(func(c Context) (float64, bool) { return scale*c.Get(of) + offset, true })
}

// Uniform draws from [low, high) using the context's random source.
func Uniform(low, high float64) Evaluator {
	return EvalFunc(func(c Context) (float64, bool) { return low + (high-low)*c.Rand().Float64(), true })
}
