// Package telemetry exposes prometheus collectors for the engine. The host
// supplies the registerer; the engine serves no metrics endpoint itself.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is a
// valid no-op receiver so components can run without telemetry wired.
type Metrics struct {
	PollsTotal      prometheus.Counter
	PollErrorsTotal prometheus.Counter
	ActivePollJobs  prometheus.Gauge
	StageReports    prometheus.Counter
	StoreWrites     prometheus.Counter
}

// New creates the engine collectors and registers them with reg. Passing a
// nil registerer creates unregistered collectors, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usdcflow_polls_total",
			Help: "Total backend flow-status polls issued.",
		}),
		PollErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usdcflow_poll_errors_total",
			Help: "Total backend flow-status polls that failed.",
		}),
		ActivePollJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usdcflow_active_poll_jobs",
			Help: "Number of flows currently being polled.",
		}),
		StageReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usdcflow_client_stage_reports_total",
			Help: "Total client stages recorded.",
		}),
		StoreWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usdcflow_store_writes_total",
			Help: "Total durable writes of the transaction collection.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PollsTotal,
			m.PollErrorsTotal,
			m.ActivePollJobs,
			m.StageReports,
			m.StoreWrites,
		)
	}
	return m
}

// IncPoll records one poll attempt.
func (m *Metrics) IncPoll() {
	if m != nil {
		m.PollsTotal.Inc()
	}
}

// IncPollError records one failed poll.
func (m *Metrics) IncPollError() {
	if m != nil {
		m.PollErrorsTotal.Inc()
	}
}

// AddActiveJobs adjusts the active polling job gauge.
func (m *Metrics) AddActiveJobs(delta float64) {
	if m != nil {
		m.ActivePollJobs.Add(delta)
	}
}

// IncStageReport records one recorded client stage.
func (m *Metrics) IncStageReport() {
	if m != nil {
		m.StageReports.Inc()
	}
}

// IncStoreWrite records one durable store write.
func (m *Metrics) IncStoreWrite() {
	if m != nil {
		m.StoreWrites.Inc()
	}
}
