package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(artifactUploadsTotal, cacheOpsTotal, notificationsTotal)
}

var (
	artifactUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_uploads_total",
			Help: "Artifact uploads by result (stored, degraded, retried).",
		},
		[]string{"result"},
	)

	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "item_cache_ops_total",
			Help: "Local item cache operations by op and result.",
		},
		[]string{"op", "result"}, // op=load|save|delete, result=hit|miss|stale|ok|error
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification gate decisions by kind and outcome (shown, suppressed).",
		},
		[]string{"kind", "outcome"},
	)
)

func IncArtifactUpload(result string) {
	artifactUploadsTotal.WithLabelValues(norm(result)).Inc()
}

func IncCacheOp(op, result string) {
	cacheOpsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}

func IncNotification(kind, outcome string) {
	notificationsTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}
