package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records owner login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_auth_attempts_total",
			Help: "Total number of owner authentication attempts",
		},
		[]string{"result"},
	)

	// AudienceDecisions counts visibility checks by post visibility and outcome (allow|deny).
	AudienceDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_audience_decisions_total",
			Help: "Total number of post visibility decisions",
		},
		[]string{"visibility", "result"},
	)

	// NotificationsDispatched counts dispatch outcomes per channel (push|sms) and result (created|existing|skipped|error).
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_notifications_dispatched_total",
			Help: "Total number of notification dispatch outcomes",
		},
		[]string{"channel", "result"},
	)

	// DeliveryAcks counts delivery acknowledgements by result (acked|ignored|error).
	DeliveryAcks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_delivery_acks_total",
			Help: "Total number of delivery acknowledgements received",
		},
		[]string{"result"},
	)

	// CorrelationMatches counts anonymous registrations attributed to a friend by signal (device|fingerprint).
	CorrelationMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_correlation_matches_total",
			Help: "Total number of registration correlation matches",
		},
		[]string{"signal"},
	)

	// FeedPages counts assembled feed pages by source (world|universe).
	FeedPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_feed_pages_total",
			Help: "Total number of feed pages served",
		},
		[]string{"source"},
	)

	// RealtimeConnections tracks open realtime websocket connections.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smallworld_realtime_connections",
			Help: "Number of open realtime connections",
		},
	)

	// TransportChecks counts transport API key checks by outcome.
	TransportChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_transport_checks_total",
			Help: "Transport API key checks",
		},
		[]string{"result"},
	)

	// MaintenancePruned counts rows removed by maintenance jobs.
	MaintenancePruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_maintenance_pruned_total",
			Help: "Rows removed by maintenance jobs",
		},
		[]string{"job"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smallworld_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
