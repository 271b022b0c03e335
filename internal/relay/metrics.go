package relay

import "github.com/prometheus/client_golang/prometheus"

// Relay collectors. Event labels come from the closed event tables, so label
// cardinality stays bounded.
var (
	// connectionsOpen gauges currently registered transport connections.
	connectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_open",
			Help: "Current number of open client connections.",
		},
	)

	// usersOnline gauges users with at least one authenticated connection.
	usersOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_users_online",
			Help: "Current number of users with at least one open connection.",
		},
	)

	// eventsIn counts inbound frames by event name.
	eventsIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_in_total",
			Help: "Inbound events received from connections.",
		},
		[]string{"event"},
	)

	// eventsOut counts frames handed to connections by event name.
	eventsOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_out_total",
			Help: "Outbound event deliveries to connections.",
		},
		[]string{"event"},
	)

	// dedupHits counts duplicate message submissions by delivery path.
	dedupHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dedup_hits_total",
			Help: "Message submissions suppressed as duplicates.",
		},
		[]string{"path"},
	)

	// validationFailures counts outbound events rejected by the validator.
	validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_validation_failures_total",
			Help: "Outbound events rejected by schema validation.",
		},
		[]string{"event"},
	)

	// bridgeEmits counts bridge control requests by event and result (ok|error).
	bridgeEmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bridge_emits_total",
			Help: "Bridge control requests by event and result.",
		},
		[]string{"event", "result"},
	)

	// persistResults counts message hand-offs by outcome (ok|error).
	persistResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_persist_total",
			Help: "Message persistence hand-offs by result.",
		},
		[]string{"result"},
	)

	// persistLatency observes persistence hand-off duration in seconds.
	persistLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_persist_duration_seconds",
			Help:    "Duration of message persistence hand-offs in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 3, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(
		connectionsOpen, usersOnline,
		eventsIn, eventsOut,
		dedupHits, validationFailures,
		bridgeEmits, persistResults, persistLatency,
	)
}
