// Package trace writes traced variable values as a CSV stream.
// This package has no dependencies on sim/. The kernel talks to it through
// the sim.Recorder interface.
package trace

// Record is one traced value: a variable of an entity at a simulated time.
type Record struct {
	Time     float64 `csv:"time"`
	Entity   string  `csv:"entity"`
	Variable string  `csv:"variable"`
	Value    float64 `csv:"value"`
}
