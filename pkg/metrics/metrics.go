package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Desired-state metrics
	WorkloadsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_workloads_total",
			Help: "Total number of workloads",
		},
	)

	WorkloadsDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_workloads_degraded",
			Help: "Number of workloads in degraded status",
		},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_instances_total",
			Help: "Total number of instances by state",
		},
		[]string{"state"},
	)

	// Reconciliation metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_reconcile_duration_seconds",
			Help:    "Duration of reconciliation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_reconcile_actions_total",
			Help: "Total number of reconciliation actions by type",
		},
		[]string{"action"},
	)

	InstanceCreateRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_instance_create_retries_total",
			Help: "Total number of retried instance creations",
		},
	)

	// Routing metrics
	RouterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_router_requests_total",
			Help: "Total number of routed requests by outcome",
		},
		[]string{"outcome"},
	)

	RouterRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_router_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Endpoint registry metrics
	EndpointAddresses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_endpoint_addresses",
			Help: "Number of ready addresses published per endpoint",
		},
		[]string{"endpoint"},
	)
)

// Router request outcomes
const (
	OutcomeProxied          = "proxied"
	OutcomeNoMatch          = "no_match"
	OutcomeNoHealthyBackend = "no_healthy_backend"
	OutcomeUpstreamError    = "upstream_error"
)

func init() {
	prometheus.MustRegister(WorkloadsTotal)
	prometheus.MustRegister(WorkloadsDegraded)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconcileActionsTotal)
	prometheus.MustRegister(InstanceCreateRetriesTotal)
	prometheus.MustRegister(RouterRequestsTotal)
	prometheus.MustRegister(RouterRequestDuration)
	prometheus.MustRegister(EndpointAddresses)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
