package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/popsim/popsim/sim"
)

// RunConfig is the run configuration file. Every field can be overridden by the
// flag of the same name.
// All top-level fields must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	Model           string  `yaml:"model"`
	Duration        float64 `yaml:"duration"`
	Step            float64 `yaml:"step"`
	Seed            int64   `yaml:"seed"`
	JobDir          string  `yaml:"job_dir"`
	Trace           string  `yaml:"trace"`
	StepEventsFirst bool    `yaml:"step_events_first"`
	MetricsAddr     string  `yaml:"metrics_addr"`
}

// loadRunConfig parses a run configuration with strict field checking: typos
// must cause errors.
func loadRunConfig(path string) (RunConfig, error) {
	var cfg RunConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading run config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	if cfg.Duration < 0 || cfg.Step < 0 {
		return cfg, fmt.Errorf("run config %s: duration and step must not be negative", path)
	}
	return cfg, nil
}

// SimConfig converts the file to kernel parameters. Zero step and duration
// defer to the model.
func (c RunConfig) SimConfig() sim.Config {
	return sim.NewConfig(c.Step, c.Duration, c.Seed, c.StepEventsFirst)
}
