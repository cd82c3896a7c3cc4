package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Data freshness
	MetricSnapshotAge       = "routing.snapshot_age_seconds"
	MetricDisruptionLatency = "realtime.disruption_apply_latency"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricJourneysPlanned = "business.journeys_planned"
	MetricDelayEvents     = "business.delays_detected"
	MetricCompensations   = "business.compensations_sent"
)
