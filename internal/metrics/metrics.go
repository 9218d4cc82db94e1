// Package metrics holds the Prometheus metrics for the sync engine, event bus and vault.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every domain metric. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UploadsTotal       *prometheus.CounterVec // docvault_uploads_total{result}
	BackendWritesTotal *prometheus.CounterVec // docvault_backend_writes_total{backend,result}
	BackendWriteTime   *prometheus.HistogramVec
	SyncRetriesTotal   *prometheus.CounterVec // docvault_sync_retries_total{backend,result}
	SyncQueuePending   prometheus.Gauge
	SyncQueueFailed    prometheus.Gauge

	EventsPublished *prometheus.CounterVec // docvault_events_published_total{type}
	EventsDropped   prometheus.Counter
	RelayConnected  prometheus.Gauge

	VaultTransitions *prometheus.CounterVec // docvault_vault_transitions_total{action,result}
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_uploads_total",
			Help: "Uploads by outcome (success, partial, failed, invalid).",
		}, []string{"result"}),
		BackendWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_backend_writes_total",
			Help: "Backend write attempts by backend and outcome.",
		}, []string{"backend", "result"}),
		BackendWriteTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docvault_backend_write_duration_seconds",
			Help:    "Backend write duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		SyncRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_sync_retries_total",
			Help: "Sync queue retries by backend and outcome.",
		}, []string{"backend", "result"}),
		SyncQueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docvault_sync_queue_pending",
			Help: "Sync queue items awaiting retry.",
		}),
		SyncQueueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docvault_sync_queue_failed",
			Help: "Sync queue items that exhausted their retries.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_events_published_total",
			Help: "Events published on the bus by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docvault_events_dropped_total",
			Help: "Events dropped from full subscriber or relay queues.",
		}),
		RelayConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docvault_event_relay_connected",
			Help: "1 if the outbound event relay is connected.",
		}),
		VaultTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_vault_transitions_total",
			Help: "Vault state transitions by action and outcome.",
		}, []string{"action", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.UploadsTotal, m.BackendWritesTotal, m.BackendWriteTime, m.SyncRetriesTotal,
		m.SyncQueuePending, m.SyncQueueFailed, m.EventsPublished, m.EventsDropped,
		m.RelayConnected, m.VaultTransitions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Upload counts one finished upload.
func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}

// BackendWrite counts one backend write and its duration.
func (m *Metrics) BackendWrite(backend string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.BackendWritesTotal.WithLabelValues(backend, outcome(ok)).Inc()
	m.BackendWriteTime.WithLabelValues(backend).Observe(seconds)
}

// Retry counts one sync queue retry.
func (m *Metrics) Retry(backend string, ok bool) {
	if m == nil {
		return
	}
	m.SyncRetriesTotal.WithLabelValues(backend, outcome(ok)).Inc()
}

// QueueDepth sets the sync queue gauges.
func (m *Metrics) QueueDepth(pending, failed int) {
	if m == nil {
		return
	}
	m.SyncQueuePending.Set(float64(pending))
	m.SyncQueueFailed.Set(float64(failed))
}

// Published counts one published event.
func (m *Metrics) Published(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// Dropped counts one dropped event.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// Relay records the relay connection state.
func (m *Metrics) Relay(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.RelayConnected.Set(1)
		return
	}
	m.RelayConnected.Set(0)
}

// Transition counts one vault transition attempt.
func (m *Metrics) Transition(action string, ok bool) {
	if m == nil {
		return
	}
	m.VaultTransitions.WithLabelValues(action, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
