// Package metrics defines Hutch's Prometheus metrics and the /metrics
// HTTP handler. Metrics are package-level collectors registered in init,
// updated directly by the owning components: the controller drives the
// reconcile and instance series, the registry drives the endpoint address
// gauge, and the router drives request outcome counters.
package metrics
