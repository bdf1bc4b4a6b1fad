// Package prom exports swrcache events as Prometheus metrics. Keys are never
// used as label values.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/request"
)

type Metrics struct {
	registry          *prometheus.Registry
	lookups           *prometheus.CounterVec
	evictions         *prometheus.CounterVec
	persistFailures   *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	retries           *prometheus.CounterVec
	externalChanges   prometheus.Counter
	invalidated       prometheus.Counter
	staleWriteSkipped prometheus.Counter
}

var _ swrcache.Hooks = (*Metrics)(nil)

// New registers the cache metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swrcache_lookups_total",
		Help: "Memory tier lookups",
	}, []string{"result"})

	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swrcache_evictions_total",
		Help: "Entries evicted by the cache",
	}, []string{"tier", "reason"})

	persistFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swrcache_persist_failures_total",
		Help: "Swallowed durable store failures",
	}, []string{"op"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swrcache_refreshes_total",
		Help: "Background SWR refreshes by outcome",
	}, []string{"result"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swrcache_request_retries_total",
		Help: "Request retries by failure kind",
	}, []string{"kind"})

	externalChanges := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swrcache_external_changes_total",
		Help: "Keys reloaded after another process changed them",
	})

	invalidated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swrcache_invalidated_entries_total",
		Help: "Entries removed by pattern invalidation",
	})

	staleWriteSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swrcache_stale_writes_skipped_total",
		Help: "Writes dropped because the key was invalidated meanwhile",
	})

	registry.MustRegister(lookups, evictions, persistFailures, refreshes, retries, externalChanges, invalidated, staleWriteSkipped)

	return &Metrics{
		registry:          registry,
		lookups:           lookups,
		evictions:         evictions,
		persistFailures:   persistFailures,
		refreshes:         refreshes,
		retries:           retries,
		externalChanges:   externalChanges,
		invalidated:       invalidated,
		staleWriteSkipped: staleWriteSkipped,
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchEngine exports e's Stats as gauges, read at scrape time.
func (m *Metrics) WatchEngine(e *swrcache.Engine) {
	gauge := func(name, help string, read func(swrcache.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return read(e.Stats())
		})
	}
	m.registry.MustRegister(
		gauge("swrcache_memory_entries", "Entries in the memory tier", func(s swrcache.Stats) float64 { return float64(s.MemoryEntries) }),
		gauge("swrcache_memory_bytes", "Accounted bytes in the memory tier", func(s swrcache.Stats) float64 { return float64(s.MemoryBytes) }),
		gauge("swrcache_persisted_entries", "Entries in the persistent tier", func(s swrcache.Stats) float64 { return float64(s.PersistedEntries) }),
		gauge("swrcache_persisted_bytes", "Accounted bytes in the persistent tier", func(s swrcache.Stats) float64 { return float64(s.PersistedBytes) }),
	)
}

// OnRetry fits request.Policy.OnRetry.
func (m *Metrics) OnRetry(_ int, _ time.Duration, err error) {
	kind := "unknown"
	if k, ok := request.Classify(err); ok {
		kind = k.String()
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) Hit(string)  { m.lookups.WithLabelValues("hit").Inc() }
func (m *Metrics) Miss(string) { m.lookups.WithLabelValues("miss").Inc() }

func (m *Metrics) Evicted(tier, _, reason string) {
	m.evictions.WithLabelValues(tier, reason).Inc()
}

func (m *Metrics) PersistFailed(op, _ string, _ error) {
	m.persistFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ExternalChange(string)       { m.externalChanges.Inc() }
func (m *Metrics) StaleWriteSkipped(string)    { m.staleWriteSkipped.Inc() }
func (m *Metrics) Invalidated(_ string, n int) { m.invalidated.Add(float64(n)) }

func (m *Metrics) Refresh(_ string, err error) {
	if err != nil {
		m.refreshes.WithLabelValues("error").Inc()
		return
	}
	m.refreshes.WithLabelValues("ok").Inc()
}
