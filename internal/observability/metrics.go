package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rink_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	HoldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rink_holds_total",
			Help: "Hold transitions by outcome",
		},
		[]string{"outcome"},
	)

	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rink_commits_total",
			Help: "Commit attempts by result",
		},
		[]string{"result"},
	)

	CommitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rink_commit_conflicts_total",
			Help: "Conditional write conflicts retried during commit",
		},
	)

	HoldsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rink_holds_expired_total",
			Help: "Holds released by the expiry sweep",
		},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rink_store_op_seconds",
			Help:    "Duration of durable store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "op"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rink_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rink_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rink_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rink_emails_total",
			Help: "Notification emails by result",
		},
		[]string{"result"},
	)
)
