package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		submissionsTotal,
		completionsTotal,
		duplicateSignalsTotal,
		pollsTotal,
		tasksFailedTotal,
		activeSessions,
	)
}

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_submissions_total",
			Help: "Generation submissions by outcome (broadcast, service_error, user_rejected, ...).",
		},
		[]string{"result"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_completions_total",
			Help: "Tasks materialized, labeled by the signal that won the race.",
		},
		[]string{"source"}, // poll | callback | manual
	)

	duplicateSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_duplicate_signals_total",
			Help: "Completion signals dropped because the task was already materialized.",
		},
		[]string{"source"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_status_polls_total",
			Help: "Status polls by observed result (pending, success, failed, error, transport_error).",
		},
		[]string{"result"},
	)

	tasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tasks_failed_total",
			Help: "Tasks that reached the failed state, by reason.",
		},
		[]string{"reason"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_active_sessions",
			Help: "Connected accounts with a running reconciliation loop.",
		},
	)
)

func IncSubmission(result string) {
	submissionsTotal.WithLabelValues(norm(result)).Inc()
}

func IncCompletion(source string) {
	completionsTotal.WithLabelValues(norm(source)).Inc()
}

func IncDuplicateSignal(source string) {
	duplicateSignalsTotal.WithLabelValues(norm(source)).Inc()
}

func IncPoll(result string) {
	pollsTotal.WithLabelValues(norm(result)).Inc()
}

func IncTaskFailed(reason string) {
	tasksFailedTotal.WithLabelValues(norm(reason)).Inc()
}

func SessionOpened() { activeSessions.Inc() }

func SessionClosed() { activeSessions.Dec() }
