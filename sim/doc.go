// Package sim provides the discrete-event kernel for hierarchical population
// models.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - entity.go: entity lifecycle (constructed → resolved → active → dead) and
//     the integrate/update/finish pass
//   - bucket.go: fixed-step buckets, the handle-linked entity lists they walk
//   - simulator.go: the event loop, Init and the zero-time cycle
//
// # Architecture
//
// Model metadata lives in sub-packages; the kernel consumes it:
//   - sim/model/: variables, equation sets, record layouts, the YAML loader
//   - sim/spatial/: k-d tree used by spatially filtered connection formation
//   - sim/trace/: CSV stream of traced variables
//   - sim/job/: run driver writing marker files and owning the trace stream
//
// Structural changes (resize, connect, clearing newborn flags) are requested
// through DeferResize, DeferConnect and DeferClearNew and applied after each
// bucket pass, never while a list is being walked.
//
// Spikes raised in finish become SpikeEvent (a full pass for the receivers) or
// LatchEvent (a bit the receivers read on their next pass), depending on the
// delay.
package sim
