package models

import (
	"database/sql/driver"
	"fmt"
)

// ReviewStatus is the data-quality review state of a partner reading.
// Readings are created by ingestion and moved through review externally;
// this service only ever reads them.
type ReviewStatus string

const (
	ReviewStatusUnreviewed ReviewStatus = "unreviewed"
	ReviewStatusApproved   ReviewStatus = "approved"
	ReviewStatusRejected   ReviewStatus = "rejected"
	ReviewStatusSuperseded ReviewStatus = "superseded"
)

func (s ReviewStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *ReviewStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*s = ReviewStatus(v)
	case []byte:
		*s = ReviewStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into ReviewStatus", value)
	}
	return nil
}

// RunStatus is the reconciliation run state machine:
// pending -> processing -> completed | failed.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

func (s RunStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *RunStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*s = RunStatus(v)
	case []byte:
		*s = RunStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into RunStatus", value)
	}
	return nil
}

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// AllocationModel selects the allocation methodology for a tenant.
// Only API MPMS 11.1 is implemented today.
type AllocationModel string

const (
	AllocationModelApiMpms111 AllocationModel = "api_mpms_11_1"
)

func (m AllocationModel) Value() (driver.Value, error) {
	return string(m), nil
}

func (m *AllocationModel) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*m = AllocationModel(v)
	case []byte:
		*m = AllocationModel(v)
	default:
		return fmt.Errorf("cannot scan %T into AllocationModel", value)
	}
	return nil
}

// AuditAction enumerates the run lifecycle events recorded to the audit log.
type AuditAction string

const (
	AuditActionReconciliationTriggered AuditAction = "reconciliation_triggered"
	AuditActionReconciliationCompleted AuditAction = "reconciliation_completed"
	AuditActionReconciliationFailed    AuditAction = "reconciliation_failed"
)
