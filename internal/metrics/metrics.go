package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apppush_dispatches_total",
		Help: "Total dispatch calls by scope kind (single|all) and result (ok|error).",
	}, []string{"scope", "result"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apppush_deliveries_total",
		Help: "Total per-subscription deliveries by outcome (delivered|gone|transient).",
	}, []string{"outcome"})

	Pruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apppush_subscriptions_pruned_total",
		Help: "Total subscriptions deleted after the push service reported them gone.",
	})
	PruneFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apppush_prune_failures_total",
		Help: "Total failed deletes of gone subscriptions (retried on the next dispatch).",
	})

	Registrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apppush_registrations_total",
		Help: "Total subscription registrations (inserts and key rotations).",
	})

	DispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "apppush_dispatch_duration_seconds",
		Help:    "Wall time of a dispatch from scope resolution to the last completed delivery.",
		Buckets: prometheus.DefBuckets,
	})

	FeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apppush_feed_clients",
		Help: "Current live dispatch feed websocket connections.",
	})
)

func Register() {
	prometheus.MustRegister(
		Dispatches, Deliveries,
		Pruned, PruneFailures,
		Registrations,
		DispatchDuration,
		FeedClients,
	)
}
