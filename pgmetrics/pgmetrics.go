// Package pgmetrics instruments the reactor and session lifecycle with
// Prometheus metrics, using promauto-registered counters and gauges.
package pgmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction labels for RecordFrame.
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)

// frameBuckets is tuned for sub-second protocol round trips rather than a
// general-purpose HTTP-latency spread.
var frameBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
	0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Registry holds every metric the reactor and session lifecycle record.
// Construct one with NewRegistry and pass it to reactor.Server.
type Registry struct {
	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionErrors    *prometheus.CounterVec
	FramesTotal         *prometheus.CounterVec
	CancelRequestsTotal prometheus.Counter
	SessionDuration     prometheus.Histogram
}

// NewRegistry registers a fresh set of metrics against reg (use
// prometheus.NewRegistry() in tests to avoid the global default
// registry's duplicate-registration panics).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pgwire_connections_total",
			Help: "Total number of accepted connections.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pgwire_connections_active",
			Help: "Number of connections currently open.",
		}),
		ConnectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pgwire_connection_errors_total",
			Help: "Connections that ended in an error, labeled by SQLSTATE code.",
		}, []string{"code"}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pgwire_frames_total",
			Help: "Protocol messages processed, labeled by direction and message type.",
		}, []string{"direction", "type"}),
		CancelRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pgwire_cancel_requests_total",
			Help: "CancelRequest connections received.",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pgwire_session_duration_seconds",
			Help:    "Wall-clock duration of a session from accept to close.",
			Buckets: frameBuckets,
		}),
	}
}

// RecordAccept increments the accept counter and active gauge.
func (r *Registry) RecordAccept() {
	if r == nil {
		return
	}
	r.ConnectionsTotal.Inc()
	r.ConnectionsActive.Inc()
}

// RecordClose decrements the active gauge, records session duration, and
// if code is a non-empty SQLSTATE code, counts it.
func (r *Registry) RecordClose(started time.Time, code string) {
	if r == nil {
		return
	}
	r.ConnectionsActive.Dec()
	r.SessionDuration.Observe(time.Since(started).Seconds())
	if code != "" {
		r.ConnectionErrors.WithLabelValues(code).Inc()
	}
}

// RecordFrame counts one protocol message in the given direction.
func (r *Registry) RecordFrame(direction string, typ byte) {
	if r == nil {
		return
	}
	r.FramesTotal.WithLabelValues(direction, string(typ)).Inc()
}

// RecordCancelRequest counts a CancelRequest connection.
func (r *Registry) RecordCancelRequest() {
	if r == nil {
		return
	}
	r.CancelRequestsTotal.Inc()
}
