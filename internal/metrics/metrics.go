// Package metrics exposes the Prometheus collectors of the chat service.
//
// Label cardinality is bounded: status is one of sent|delivered|seen, event
// is one of the realtime event names and direction is in|out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OnlineUsers gauges the size of the presence registry.
	OnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Number of users with a live realtime connection.",
		},
	)

	// StatusTransitions counts messages that reached a status.
	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_status_transitions_total",
			Help: "Messages moved into a delivery status.",
		},
		[]string{"status"},
	)

	// RealtimeEvents counts events read from or written to realtime streams.
	RealtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_events_total",
			Help: "Realtime events by name and direction.",
		},
		[]string{"event", "direction"},
	)

	// SweepDuration observes how long a reconciliation sweep takes.
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_sweep_duration_seconds",
			Help:    "Duration of pending-delivery sweeps run on reconnect.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// NotificationsDropped counts events that could not be queued on a connection.
	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_notifications_dropped_total",
			Help: "Outbound realtime events dropped because the connection was closed or full.",
		},
	)
)

func init() {
	prometheus.MustRegister(OnlineUsers, StatusTransitions, RealtimeEvents, SweepDuration, NotificationsDropped)
}

// Direction values for RealtimeEvents.
const (
	In  = "in"
	Out = "out"
)

// ObserveEvent increments the realtime event counter.
func ObserveEvent(event, direction string) {
	RealtimeEvents.WithLabelValues(event, direction).Inc()
}

// ObserveTransition adds n messages moved into status.
func ObserveTransition(status string, n int64) {
	if n <= 0 {
		return
	}
	StatusTransitions.WithLabelValues(status).Add(float64(n))
}
