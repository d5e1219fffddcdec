// Package workflow contains the reconciliation state machine: the approval
// gate, the production aggregator and the orchestrator that drives one run
// from trigger to terminal status.
package workflow

import (
	"errors"
	"fmt"

	"bitbucket.org/flowshare/allocation_backend/allocation"
)

// FailureKind classifies why a run failed. Data-quality kinds are terminal
// and must not be redelivered; the rest are worth a retry from the messaging
// layer.
type FailureKind string

const (
	FailureNone                 FailureKind = ""
	FailureInvalidInput         FailureKind = "invalid_input"
	FailureNoData               FailureKind = "no_data"
	FailureInsufficientApproval FailureKind = "insufficient_approval"
	FailureTenantNotFound       FailureKind = "tenant_not_found"
	FailureTransientStore       FailureKind = "transient_store_error"
)

var (
	ErrNoData               = errors.New("no readings for period")
	ErrInsufficientApproval = errors.New("approval ratio below required threshold")
	ErrTenantNotFound       = errors.New("tenant not found or inactive")
)

// transientError wraps a collaborator I/O failure so classification survives
// additional wrapping.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return fmt.Sprintf("transient store error: %v", e.err) }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error {
	return &transientError{err: err}
}

// classifyFailure maps an error from any pipeline step to its FailureKind.
// Unrecognized errors are treated as transient so the trigger gets redelivered.
func classifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrNoData):
		return FailureNoData
	case errors.Is(err, ErrInsufficientApproval):
		return FailureInsufficientApproval
	case errors.Is(err, ErrTenantNotFound):
		return FailureTenantNotFound
	case errors.Is(err, allocation.ErrInvalidInput):
		return FailureInvalidInput
	default:
		return FailureTransientStore
	}
}

// IsRetryable reports whether the messaging layer should redeliver the
// trigger. Data-quality failures cannot be fixed by retrying.
func (k FailureKind) IsRetryable() bool {
	return k == FailureTenantNotFound || k == FailureTransientStore
}
