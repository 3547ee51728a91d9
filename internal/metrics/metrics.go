// Package metrics provides Prometheus instrumentation for the gateway. It
// exposes gauges for live session counts, counters for message and export
// throughput, and histograms for export latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks the current number of registered sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wagateway_sessions_active",
		Help: "Current number of registered sessions",
	})

	// SessionEvents counts session lifecycle transitions, labeled by the
	// resulting status.
	SessionEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wagateway_session_events_total",
		Help: "Total number of session lifecycle transitions",
	}, []string{"status"})

	// MessagesSent counts successfully delivered outbound messages.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wagateway_messages_sent_total",
		Help: "Total number of outbound messages delivered",
	})

	// ExportsTotal counts completed export jobs, labeled by outcome:
	// "ok" when every conversation succeeded, "partial" otherwise.
	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wagateway_exports_total",
		Help: "Total number of completed export jobs",
	}, []string{"outcome"})

	// ExportDuration records end-to-end export job duration in seconds.
	ExportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wagateway_export_duration_seconds",
		Help:    "End-to-end export job duration in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900},
	})

	// ConversationRetries counts retried conversation-listing calls against
	// the automation backend.
	ConversationRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wagateway_conversation_retries_total",
		Help: "Total number of retried conversation listing calls",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		SessionEvents,
		MessagesSent,
		ExportsTotal,
		ExportDuration,
		ConversationRetries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
