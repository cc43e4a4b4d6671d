package telemetry

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricSyncRefreshCount        = []string{"orders", "sync", "refresh", "count"}
	MetricSyncRefreshErrorCount   = []string{"orders", "sync", "refresh", "error", "count"}
	MetricSyncSubmitDirectCount   = []string{"orders", "sync", "submit", "direct", "count"}
	MetricSyncSubmitQueuedCount   = []string{"orders", "sync", "submit", "queued", "count"}
	MetricSyncSubmitRejectedCount = []string{"orders", "sync", "submit", "rejected", "count"}
	MetricSyncPushAppliedCount    = []string{"orders", "sync", "push", "applied", "count"}

	MetricOutboxDrainedCount  = []string{"orders", "outbox", "drained", "count"}
	MetricOutboxRejectedCount = []string{"orders", "outbox", "rejected", "count"}
	MetricOutboxDeadCount     = []string{"orders", "outbox", "dead", "count"}
	MetricOutboxCorruptCount  = []string{"orders", "outbox", "corrupt", "count"}
	MetricOutboxDepth         = []string{"orders", "outbox", "depth"}

	MetricConnectivityChanges  = []string{"orders", "connectivity", "changes"}
	MetricRealtimeConnectCount = []string{"orders", "realtime", "connect", "count"}
	MetricRealtimeDropCount    = []string{"orders", "realtime", "frame", "dropped", "count"}
)

type Label string

var (
	LabelError   Label = "error"
	LabelOrderID Label = "order_id"
	LabelTempID  Label = "temp_id"
	LabelSeq     Label = "seq"
	LabelTopic   Label = "topic"
	LabelKind    Label = "kind"
	LabelOnline  Label = "online"
)

// M builds a metrics label.
func (lab Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L builds a log attribute.
func (lab Label) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
