package model

// Generation modes
type Mode string

const (
	ModeSimple   Mode = "simple"
	ModeAdvanced Mode = "advanced"
)

var ValidModes = []Mode{ModeSimple, ModeAdvanced}

// Ledger-side status of a task's fee transaction
type ChainStatus string

const (
	ChainStatusUnsent    ChainStatus = "unsent"
	ChainStatusBroadcast ChainStatus = "broadcast"
	ChainStatusConfirmed ChainStatus = "confirmed"
	ChainStatusFailed    ChainStatus = "failed"
)

// Last status observed from the generation service
type ServiceStatus string

const (
	ServiceStatusUnknown ServiceStatus = "unknown"
	ServiceStatusPending ServiceStatus = "pending"
	ServiceStatusSuccess ServiceStatus = "success"
	ServiceStatusFailed  ServiceStatus = "failed"
	ServiceStatusError   ServiceStatus = "error"
)

// IsFailure reports whether the service explicitly said the task will not produce output.
func (s ServiceStatus) IsFailure() bool {
	return s == ServiceStatusFailed || s == ServiceStatusError
}

// Orchestrator lifecycle state of a task
type TaskState string

const (
	TaskStateIdle                      TaskState = "idle"
	TaskStateSubmitting                TaskState = "submitting"
	TaskStateAwaitingChainConfirmation TaskState = "awaiting_chain_confirmation"
	TaskStateAwaitingServiceCompletion TaskState = "awaiting_service_completion"
	TaskStateCompleted                 TaskState = "completed"
	TaskStateFailed                    TaskState = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Why a task ended up in TaskStateFailed
type FailureReason string

const (
	FailureNone                   FailureReason = ""
	FailureGenerationService      FailureReason = "generation_service_error"
	FailureUserRejected           FailureReason = "user_rejected"
	FailureInsufficientBalance    FailureReason = "insufficient_balance"
	FailureChainUnavailable       FailureReason = "chain_unavailable"
	FailureTransactionReverted    FailureReason = "transaction_reverted"
	FailureServiceReportedFailure FailureReason = "service_reported_failure"
)

// User-facing notification kinds
type NotificationKind string

const (
	NotificationCompletion  NotificationKind = "completion"
	NotificationFailure     NotificationKind = "failure"
	NotificationEmptyResult NotificationKind = "empty_result"
)

// Where a completion signal came from
type CompletionSource string

const (
	SourcePoll     CompletionSource = "poll"
	SourceCallback CompletionSource = "callback"
	SourceManual   CompletionSource = "manual"
)
