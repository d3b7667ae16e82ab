package sim

// Config groups run parameters the import layer hands to the kernel.
type Config struct {
	Step     float64 // base integration step; 0 takes the model's step
	Duration float64 // simulated seconds; 0 takes the model's duration, which may be 0 (run until drained)
	Seed     int64   // master seed for PartitionedRNG
	// StepEventsFirst orders bucket events ahead of spike and latch events that
	// share a timestamp. The default runs non-step events first so latches set for
	// time t are visible to the bucket pass at t.
	StepEventsFirst bool
}

// NewConfig creates a Config. Zero values are kept as given; NewSimulator fills
// Step and Duration from the model.
func NewConfig(step, duration float64, seed int64, stepEventsFirst bool) Config {
	return Config{
		Step:            step,
		Duration:        duration,
		Seed:            seed,
		StepEventsFirst: stepEventsFirst,
	}
}
