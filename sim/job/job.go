// Package job drives one simulation run end to end: marker files in the job
// directory, the trace stream, and the exit status.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/popsim/popsim/sim"
	"github.com/popsim/popsim/sim/model"
	"github.com/popsim/popsim/sim/trace"
)

// Marker file names written into the job directory.
const (
	StartedMarker  = "started"
	FinishedMarker = "finished"
)

var (
	// ErrInterrupted is reported when the context ends before the run completes.
	ErrInterrupted = errors.New("run interrupted")
	// ErrPanic wraps a panic raised inside the run, such as one from an evaluator.
	ErrPanic = errors.New("run panicked")
)

// Options configures the side channels of a run.
type Options struct {
	Dir       string       // job directory for marker files; empty disables markers
	TracePath string       // trace CSV path; empty or "-" writes to stdout
	Metrics   *sim.Metrics // optional
}

// Result summarizes a finished run.
type Result struct {
	Clock        float64
	Events       int64
	BucketPasses int64
	Counts       map[string]int
	Trace        *trace.Summary
}

// Run executes m and returns the process exit status: 0 on success, 1 on failure.
func Run(m *model.Model, cfg sim.Config, opts Options) int {
	if _, err := Execute(context.Background(), m, cfg, opts); err != nil {
		return 1
	}
	return 0
}

// Execute runs m until its duration or until ctx ends. The finished marker
// records "success" or "failure: <reason>"; on failure the reason is also
// appended to the trace stream. A panic inside the run is a failure too. The
// trace stream is closed exactly once.
func Execute(ctx context.Context, m *model.Model, cfg sim.Config, opts Options) (*Result, error) {
	if err := writeMarker(opts.Dir, StartedMarker, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logrus.Errorf("job %s: %v", m.Name, err)
		return nil, err
	}

	out, err := trace.Create(opts.TracePath)
	if err != nil {
		finish(opts.Dir, err)
		return nil, err
	}

	res, err := simulate(ctx, m, cfg, opts, out)
	if err != nil {
		logrus.Errorf("job %s: %v", m.Name, err)
		if derr := out.WriteDiagnostic("failure: " + err.Error()); derr != nil {
			logrus.Warnf("job %s: writing diagnostic: %v", m.Name, derr)
		}
	}
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if res != nil {
		res.Trace = out.Summary()
	}
	finish(opts.Dir, err)
	return res, err
}

func simulate(ctx context.Context, m *model.Model, cfg sim.Config, opts Options, out *trace.Writer) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Debugf("job %s: panic: %v\n%s", m.Name, r, debug.Stack())
			res, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	s, err := sim.NewSimulator(m, cfg)
	if err != nil {
		return nil, err
	}
	s.Trace = out
	s.Metrics = opts.Metrics

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()

	logrus.Infof("job %s: step %g, duration %g, seed %d", m.Name, s.Config.Step, s.Config.Duration, s.Config.Seed)
	if err := s.Run(); err != nil {
		return nil, fmt.Errorf("running %s: %w", m.Name, err)
	}
	if s.Stopped() {
		return nil, fmt.Errorf("%w at t=%g: %v", ErrInterrupted, s.Clock, ctx.Err())
	}
	counts, err := s.Counts()
	if err != nil {
		return nil, err
	}
	return &Result{
		Clock:        s.Clock,
		Events:       s.EventCount,
		BucketPasses: s.BucketPasses,
		Counts:       counts,
	}, nil
}

func finish(dir string, runErr error) {
	status := "success"
	if runErr != nil {
		status = "failure: " + runErr.Error()
	}
	if err := writeMarker(dir, FinishedMarker, status); err != nil {
		logrus.Errorf("writing finished marker: %v", err)
	}
}

func writeMarker(dir, name, payload string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating job directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(payload+"\n"), 0644); err != nil {
		return fmt.Errorf("writing %s marker: %w", name, err)
	}
	return nil
}
