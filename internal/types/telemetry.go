package types

// Telemetry metric names. CloudWatch and Prometheus sinks both use these.
const (
	// Metric Names
	MetricDispatchAttempt  = "DispatchAttempt"
	MetricDispatchSent     = "DispatchSent"
	MetricDispatchRetry    = "DispatchRetry"
	MetricDispatchFailed   = "DispatchFailed"
	MetricDispatchSkipped  = "DispatchSkipped"
	MetricGatewayLatency   = "GatewayLatency"
	MetricSchedulerRun     = "SchedulerRun"
	MetricSchedulerDefer   = "SchedulerDeferred"
	MetricReclaimedMessage = "ReclaimedMessages"

	// Dimension Keys
	DimProvider = "Provider"
	DimResult   = "Result"
	DimTrigger  = "Trigger"

	// Metric Namespace
	MetricNamespace = "SMSDispatch"
)
