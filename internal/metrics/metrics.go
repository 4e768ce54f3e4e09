package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	eventsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "giveaway_events_created_total",
		Help: "Giveaway events created.",
	})
	eventsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "giveaway_events_ended_total",
		Help: "Giveaway events ended, by reason.",
	}, []string{"reason"})
	entries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "giveaway_entries_total",
		Help: "Entry attempts, by result.",
	}, []string{"result"})
	flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "giveaway_flush_total",
		Help: "Persistence flushes, by status.",
	}, []string{"status"})
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "giveaway_tick_duration_seconds",
		Help:    "Time spent in one scheduler tick.",
		Buckets: prometheus.DefBuckets,
	})
	activeEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "giveaway_active_events",
		Help: "Events currently accepting entries.",
	})
)

func init() {
	registry.MustRegister(
		eventsCreated,
		eventsEnded,
		entries,
		flushes,
		tickDuration,
		activeEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Entry results
const (
	EntryAdded    = "added"
	EntryRemoved  = "removed"
	EntryRejected = "rejected"
	EntryInactive = "inactive"
)

func EventCreated() {
	eventsCreated.Inc()
}

func EventEnded(reason string) {
	eventsEnded.WithLabelValues(reason).Inc()
}

func Entry(result string) {
	entries.WithLabelValues(result).Inc()
}

// Flush records the outcome of one full store flush.
func Flush(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	flushes.WithLabelValues(status).Inc()
}

func TickDuration(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

func SetActiveEvents(n int) {
	activeEvents.Set(float64(n))
}

// Handler は /metrics 用のハンドラ
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Registry exposes the private registry to tests.
func Registry() *prometheus.Registry {
	return registry
}
