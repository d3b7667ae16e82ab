package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/popsim/popsim/sim/model"
)

// ErrNotInitialized is returned by queries that need the zero-time cycle to have run.
var ErrNotInitialized = errors.New("simulation not initialized")

// Recorder receives traced variable values at the end of each pass.
type Recorder interface {
	Record(t float64, entity, variable string, value float64)
}

// Simulator is the core object that holds simulation time, the event queue, the
// step buckets and the entity tree rooted at the wrapper.
type Simulator struct {
	Model  *model.Model
	Config Config
	Clock  float64
	// Trace, when set, receives every traced variable at each finish.
	Trace Recorder
	// Metrics is optional; a nil collector records nothing.
	Metrics *Metrics

	BucketPasses int64
	EventCount   int64

	queue       *EventQueue
	buckets     map[float64]*StepEvent
	arena       arena
	wrapper     *Entity
	rng         *PartitionedRNG
	deferred    deferred
	inStepPass  bool
	lastID      uint64
	stopped     atomic.Bool
	initialized bool
}

// NewSimulator prepares a simulator for m. Zero Step and Duration in cfg take
// the model's values; the model is analyzed if that has not happened yet.
func NewSimulator(m *model.Model, cfg Config) (*Simulator, error) {
	if m.Wrapper() == nil {
		if err := m.Analyze(); err != nil {
			return nil, fmt.Errorf("analyzing model %s: %w", m.Name, err)
		}
	}
	if cfg.Step == 0 {
		cfg.Step = m.Step
	}
	if cfg.Step <= 0 {
		return nil, ErrNoStep
	}
	if cfg.Duration == 0 {
		cfg.Duration = m.Duration
	}
	if cfg.Seed == 0 {
		cfg.Seed = m.Seed
	}
	return &Simulator{
		Model:   m,
		Config:  cfg,
		queue:   NewEventQueue(cfg.StepEventsFirst),
		buckets: make(map[float64]*StepEvent),
		rng:     NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
	}, nil
}

// ConstructNetwork builds the model's initial topology without stepping it.
func ConstructNetwork(m *model.Model, cfg Config) (*Simulator, error) {
	sim, err := NewSimulator(m, cfg)
	if err != nil {
		return nil, err
	}
	if err := sim.Init(); err != nil {
		return nil, err
	}
	return sim, nil
}

// Init runs the zero-time cycle: the wrapper and every top-level population are
// created, then deferred resize and connect work is flushed. A second call
// returns ErrAlreadyInitialized.
func (sim *Simulator) Init() (err error) {
	if sim.initialized {
		return ErrAlreadyInitialized
	}
	sim.initialized = true
	defer recoverStructure(&err)

	w := sim.newEntity(KindWrapper, sim.Model.Wrapper(), nil, nil)
	sim.wrapper = w
	sim.enqueue(w, sim.Config.Step)
	w.resolve()
	w.init()
	sim.finishInitCycle()

	logrus.Infof("[t=%.6f] %s initialized: %d entities, %d buckets", sim.Clock, sim.Model.Name, sim.arena.live(), len(sim.buckets))
	return nil
}

func (sim *Simulator) finishInitCycle() {
	sim.updatePopulations()
}

// Schedule pushes an event into the queue.
func (sim *Simulator) Schedule(ev Event) {
	sim.queue.Schedule(ev)
}

// Run drains the event queue in time order until it is empty, the duration is
// passed or Stop is called. It runs Init first if needed.
func (sim *Simulator) Run() (err error) {
	if !sim.initialized {
		if err := sim.Init(); err != nil {
			return err
		}
	}
	defer recoverStructure(&err)

	for !sim.Stopped() {
		ev := sim.queue.Peek()
		if ev == nil {
			break
		}
		t := ev.Timestamp()
		if d := sim.Config.Duration; d > 0 && t > d && !sameTime(t, d) {
			break
		}
		sim.queue.PopNext()
		if t < sim.Clock && !sameTime(t, sim.Clock) {
			panic(structuref("", "clock went backwards: event at %g, clock at %g", t, sim.Clock))
		}
		if t > sim.Clock {
			sim.Clock = t
		}
		logrus.Debugf("[t=%.6f] Executing %T", sim.Clock, ev)
		ev.Execute(sim)
		sim.EventCount++
		sim.Metrics.event(ev.Kind())
	}
	logrus.Infof("[t=%.6f] Simulation ended: %d events, %d bucket passes", sim.Clock, sim.EventCount, sim.BucketPasses)
	return nil
}

// Stop asks Run to return after the event in flight. Deferred work and death
// bookkeeping for that event are skipped.
func (sim *Simulator) Stop() { sim.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (sim *Simulator) Stopped() bool { return sim.stopped.Load() }

// Wrapper returns the root entity, or nil before Init.
func (sim *Simulator) Wrapper() *Entity { return sim.wrapper }

// Populations returns the top-level populations.
func (sim *Simulator) Populations() []*Population {
	if sim.wrapper == nil {
		return nil
	}
	return sim.wrapper.Children()
}

// Buckets returns the active step sizes in ascending order.
func (sim *Simulator) Buckets() []float64 {
	out := make([]float64, 0, len(sim.buckets))
	for dt := range sim.buckets {
		out = append(out, dt)
	}
	sort.Float64s(out)
	return out
}

// Counts sums live members per part path over every container instance.
func (sim *Simulator) Counts() (map[string]int, error) {
	if sim.wrapper == nil {
		return nil, ErrNotInitialized
	}
	out := make(map[string]int)
	var walk func(pops []*Population)
	walk = func(pops []*Population) {
		for _, p := range pops {
			if !p.Alive() {
				continue
			}
			out[p.Name()] += p.n
			for _, m := range p.members {
				if m != nil && m.kind == KindCompartment {
					walk(m.Children())
				}
			}
		}
	}
	walk(sim.Populations())
	return out, nil
}
