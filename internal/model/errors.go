package model

import "errors"

var (
	// Generation service
	ErrGenerationService  = errors.New("generation service rejected the request")
	ErrServiceUnavailable = errors.New("generation service unavailable")
	ErrInvalidRequest     = errors.New("invalid generation request")

	// Ledger
	ErrUserRejected        = errors.New("transaction rejected by user")
	ErrInsufficientBalance = errors.New("insufficient balance for generation fee")
	ErrChainUnavailable    = errors.New("ledger unavailable")
	ErrTransactionReverted = errors.New("transaction reverted")

	// Reconciliation
	ErrPollTransient          = errors.New("transient status poll failure")
	ErrServiceReportedFailure = errors.New("generation service reported failure")
	ErrEmptyResult            = errors.New("completion payload carried no items")

	// Infrastructure
	ErrStorageUpload    = errors.New("artifact upload failed")
	ErrCacheUnavailable = errors.New("local cache unavailable")

	// Orchestrator
	ErrNotConnected      = errors.New("no active session for account")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// FailureReasonFor maps a terminal error to the reason recorded on the task.
func FailureReasonFor(err error) FailureReason {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUserRejected):
		return FailureUserRejected
	case errors.Is(err, ErrInsufficientBalance):
		return FailureInsufficientBalance
	case errors.Is(err, ErrTransactionReverted):
		return FailureTransactionReverted
	case errors.Is(err, ErrChainUnavailable):
		return FailureChainUnavailable
	case errors.Is(err, ErrServiceReportedFailure):
		return FailureServiceReportedFailure
	case errors.Is(err, ErrGenerationService),
		errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrInvalidRequest):
		return FailureGenerationService
	}
	return FailureChainUnavailable
}
