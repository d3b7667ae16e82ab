package sim

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes kernel activity as Prometheus collectors. All methods are
// safe on a nil receiver.
type Metrics struct {
	gatherer prometheus.Gatherer

	EventsTotal   *prometheus.CounterVec
	BucketPasses  prometheus.Counter
	LiveEntities  *prometheus.GaugeVec
	ActiveBuckets prometheus.Gauge
	DeferredTotal *prometheus.CounterVec
	EntitiesBorn  prometheus.Counter
	EntitiesDied  prometheus.Counter
}

// NewMetrics registers the kernel metrics against reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "popsim_events_total",
		Help: "Events executed by kind.",
	}, []string{"kind"}), "popsim_events_total")
	if err != nil {
		return nil, err
	}
	passes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "popsim_bucket_passes_total",
		Help: "Fixed-step bucket passes executed.",
	}), "popsim_bucket_passes_total")
	if err != nil {
		return nil, err
	}
	live, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "popsim_live_entities",
		Help: "Live population members by part.",
	}, []string{"part"}), "popsim_live_entities")
	if err != nil {
		return nil, err
	}
	buckets, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "popsim_active_buckets",
		Help: "Step buckets currently in the bucket table.",
	}), "popsim_active_buckets")
	if err != nil {
		return nil, err
	}
	deferred, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "popsim_deferred_total",
		Help: "Deferred structural operations queued, by operation.",
	}, []string{"op"}), "popsim_deferred_total")
	if err != nil {
		return nil, err
	}
	born, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "popsim_entities_created_total",
		Help: "Entities that completed init.",
	}), "popsim_entities_created_total")
	if err != nil {
		return nil, err
	}
	died, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "popsim_entities_died_total",
		Help: "Entities that died.",
	}), "popsim_entities_died_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:      gatherer,
		EventsTotal:   events,
		BucketPasses:  passes,
		LiveEntities:  live,
		ActiveBuckets: buckets,
		DeferredTotal: deferred,
		EntitiesBorn:  born,
		EntitiesDied:  died,
	}, nil
}

// Handler serves the gatherer the metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) event(kind EventKind) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) bucketPass() {
	if m == nil {
		return
	}
	m.BucketPasses.Inc()
}

func (m *Metrics) setBuckets(n int) {
	if m == nil {
		return
	}
	m.ActiveBuckets.Set(float64(n))
}

func (m *Metrics) addLive(part string, delta int) {
	if m == nil {
		return
	}
	m.LiveEntities.WithLabelValues(part).Add(float64(delta))
}

func (m *Metrics) deferredOp(op string) {
	if m == nil {
		return
	}
	m.DeferredTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) created(e *Entity) {
	if m == nil || e.kind == KindGlobal || e.kind == KindWrapper {
		return
	}
	m.EntitiesBorn.Inc()
}

func (m *Metrics) died(e *Entity) {
	if m == nil || e.kind == KindGlobal || e.kind == KindWrapper {
		return
	}
	m.EntitiesDied.Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
