package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the reconciliation engine. Registered on the
// default registry and served from /metrics.
var (
	ReconcileInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subpay",
		Subsystem: "reconcile",
		Name:      "attempts_in_flight",
		Help:      "Payment attempts currently being polled.",
	})

	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subpay",
		Subsystem: "reconcile",
		Name:      "outcomes_total",
		Help:      "Terminal reconciliation outcomes by state.",
	}, []string{"outcome"})

	ReconcilePollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subpay",
		Subsystem: "reconcile",
		Name:      "poll_cycles_total",
		Help:      "Provider history poll cycles executed.",
	})

	ProviderHistoryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "subpay",
		Subsystem: "provider",
		Name:      "history_query_seconds",
		Help:      "Latency of provider operation-history queries.",
		Buckets:   prometheus.DefBuckets,
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subpay",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Notifications delivered, by kind.",
	}, []string{"kind"})

	SweeperCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subpay",
		Subsystem: "sweeper",
		Name:      "cycles_total",
		Help:      "Expiry sweeper cycles, by result.",
	}, []string{"result"})

	SweeperWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subpay",
		Subsystem: "sweeper",
		Name:      "warnings_total",
		Help:      "Near-expiry warnings emitted.",
	})
)
