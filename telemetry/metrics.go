package telemetry

// EmissionBuckets covers the capture-to-publish latency profile: settle
// delays dominate, so buckets run from sub-millisecond to a few seconds.
var EmissionBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Emission pipeline metrics
var (
	// EventsCapturedTotal counts lifecycle events captured, by model and action
	EventsCapturedTotal CounterVec = noopCounterVec{}

	// EventsSkippedTotal counts hook fires skipped for missing result data
	EventsSkippedTotal Counter = NoopStat{}

	// EnvelopesPublishedTotal counts envelopes handed to the channel, by model and action
	EnvelopesPublishedTotal CounterVec = noopCounterVec{}

	// EmissionFailuresTotal counts emissions that terminated in the failed state, by stage (refetch, publish)
	EmissionFailuresTotal CounterVec = noopCounterVec{}

	// RefetchFallbacksTotal counts re-fetches that fell back to the captured snapshot
	RefetchFallbacksTotal Counter = NoopStat{}

	// EmissionLatencySeconds measures capture-to-publish latency
	EmissionLatencySeconds Histogram = NoopStat{}

	// PendingEmissions tracks emissions waiting on commit or settle delay
	PendingEmissions Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	EventsCapturedTotal = NewCounterVec(
		"events_captured_total",
		"Lifecycle events captured from store hooks",
		[]string{"model", "action"},
	)
	EventsSkippedTotal = NewCounter(
		"events_skipped_total",
		"Hook fires skipped because the event carried no result data",
	)
	EnvelopesPublishedTotal = NewCounterVec(
		"envelopes_published_total",
		"Sanitized envelopes handed to the channel",
		[]string{"model", "action"},
	)
	EmissionFailuresTotal = NewCounterVec(
		"emission_failures_total",
		"Emissions that terminated in the failed state",
		[]string{"stage"},
	)
	RefetchFallbacksTotal = NewCounter(
		"refetch_fallbacks_total",
		"Re-fetches that fell back to the captured snapshot",
	)
	EmissionLatencySeconds = NewHistogram(
		"emission_latency_seconds",
		"Latency from event capture to publish",
		EmissionBuckets,
	)
	PendingEmissions = NewGauge(
		"pending_emissions",
		"Emissions waiting on commit or settle delay",
	)
}
