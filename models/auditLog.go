package models

import "time"

// AuditLog records workflow state transitions for a run. Rows are append-only.
type AuditLog struct {
	ID            uint        `gorm:"primary_key;autoIncrement" json:"id"`
	TenantId      string      `gorm:"size:36;not null;index:idx_audit_tenant_run" json:"tenant_id"`
	RunId         string      `gorm:"size:36;not null;index:idx_audit_tenant_run" json:"run_id"`
	Action        AuditAction `gorm:"type:enum('reconciliation_triggered','reconciliation_completed','reconciliation_failed');not null" json:"action"`
	Detail        string      `gorm:"type:text" json:"detail"`
	CorrelationId string      `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
}
