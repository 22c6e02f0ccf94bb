package apiclient

// Metric event names recorded by the pipeline and coordinator.
const (
	MetricRequestSent          = "request.sent"
	MetricRequestReplayed      = "request.replayed"
	MetricRefreshStarted       = "refresh.started"
	MetricRefreshJoined        = "refresh.joined"
	MetricRefreshSucceeded     = "refresh.succeeded"
	MetricRefreshFailed        = "refresh.failed"
	MetricRefreshSkippedStale  = "refresh.skipped_stale"
	MetricTransportInvocations = "refresh.transport_calls"
)
