// Package metrics holds the Prometheus collectors for the sync server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry served at /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RoomsActive,
		ParticipantsActive,
		RoomsCreatedTotal,
		OperationsAppliedTotal,
		OperationsRejectedTotal,
		SavesTotal,
		SaveDurationSeconds,
		CursorFramesDroppedTotal,
		ConnectionsActive,
		RelayEventsTotal,
	)
}

var (
	RoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_rooms_active",
			Help: "Number of documents with at least one participant",
		},
	)

	ParticipantsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_participants_active",
			Help: "Number of participants across all rooms",
		},
	)

	RoomsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_rooms_created_total",
			Help: "Total number of rooms seeded from the report store",
		},
	)

	OperationsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_operations_applied_total",
			Help: "Total number of operations applied per type",
		},
		[]string{"type"},
	)

	OperationsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_operations_rejected_total",
			Help: "Total number of rejected operations per reason",
		},
		[]string{"reason"},
	)

	SavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_saves_total",
			Help: "Total number of save requests per result",
		},
		[]string{"result"},
	)

	SaveDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collab_save_duration_seconds",
			Help:    "Duration of report store persist calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CursorFramesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_cursor_frames_dropped_total",
			Help: "Total number of cursor updates dropped by rate limiting or back-pressure",
		},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)
)

var RelayEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "collab_relay_events_total",
		Help: "Room events handed to the Redis relay per result",
	},
	[]string{"result"},
)

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
