package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics registry and cluster meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	// Discovery meters.
	LookupsTotal       prometheus.Counter
	RoundsTotal        *prometheus.CounterVec
	RoundDuration      prometheus.Histogram
	RepliesTotal       *prometheus.CounterVec
	ResponsesTotal     *prometheus.CounterVec
	HandlesAddedTotal  prometheus.Counter
	Members            prometheus.Gauge
	HandlesPurgedTotal prometheus.Counter
}

// NewMetrics creates a custom Prometheus registry with the cluster metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arc_cluster_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arc_cluster_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arc_cluster_errors_total",
		Help: "Total number of errors.",
	}, []string{"operation", "type"})

	lookups := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arc_cluster_lookups_total",
		Help: "Total number of lookup calls.",
	})

	rounds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arc_cluster_rounds_total",
		Help: "Discovery rounds by outcome (complete, timeout, error, cancelled).",
	}, []string{"outcome"})

	roundDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arc_cluster_round_duration_seconds",
		Help:    "Time from broadcast to aggregation of a discovery round.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	replies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arc_cluster_replies_total",
		Help: "Replies received by the coordinator (found, not_found, error, missing).",
	}, []string{"result"})

	responses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arc_cluster_responses_total",
		Help: "Search responses produced locally (found, not_found, ambiguous, error).",
	}, []string{"result"})

	handlesAdded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arc_cluster_handles_added_total",
		Help: "Remote handles pushed into the handle store.",
	})

	members := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arc_cluster_members",
		Help: "Known remote group members.",
	})

	purged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arc_cluster_handles_purged_total",
		Help: "Remote handles dropped because their node left the group.",
	})

	reg.MustRegister(opDuration, opTotal, errorsTotal,
		lookups, rounds, roundDuration, replies, responses, handlesAdded, members, purged)

	return &Metrics{
		Registry:           reg,
		OperationDuration:  opDuration,
		OperationTotal:     opTotal,
		ErrorsTotal:        errorsTotal,
		LookupsTotal:       lookups,
		RoundsTotal:        rounds,
		RoundDuration:      roundDuration,
		RepliesTotal:       replies,
		ResponsesTotal:     responses,
		HandlesAddedTotal:  handlesAdded,
		Members:            members,
		HandlesPurgedTotal: purged,
	}
}
