package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"bitbucket.org/flowshare/allocation_backend/config"
)

const moduleName = "models"

// ErrRunNotFound is returned when a run id does not exist for the tenant.
var ErrRunNotFound = errors.New("reconciliation run not found")

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// RunStore persists reconciliation runs.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// Create inserts a pending run. A duplicate primary key is treated as success
// so that redelivered trigger requests stay idempotent.
func (s *RunStore) Create(ctx context.Context, run *ReconciliationRun) error {
	err := s.db.WithContext(ctx).Create(run).Error
	if err != nil && isDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *RunStore) GetById(ctx context.Context, tenantId, runId string) (*ReconciliationRun, error) {
	var run ReconciliationRun
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", runId, tenantId).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns runs for a tenant, newest first, optionally filtered by status.
func (s *RunStore) List(ctx context.Context, tenantId string, status RunStatus, limit int) ([]ReconciliationRun, error) {
	q := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("created_at DESC").
		Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var runs []ReconciliationRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// CompareAndSetStatus transitions a run from one status to another and reports
// whether this caller won the transition. A false return with nil error means
// another worker already moved the run.
func (s *RunStore) CompareAndSetStatus(ctx context.Context, tenantId, runId string, from, to RunStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ReconciliationRun{}).
		Where("id = ? AND tenant_id = ? AND status = ?", runId, tenantId, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetCompleted stores the result document and marks the run completed.
func (s *RunStore) SetCompleted(ctx context.Context, tenantId, runId string, result *ReconciliationResult) error {
	payload, err := EncodeResult(result)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&ReconciliationRun{}).
		Where("id = ? AND tenant_id = ?", runId, tenantId).
		Updates(map[string]interface{}{
			"status":        RunStatusCompleted,
			"result":        payload,
			"error_message": nil,
			"completed_at":  now,
			"updated_at":    now,
		}).Error
}

// SetFailed marks the run failed with a human-readable reason.
func (s *RunStore) SetFailed(ctx context.Context, tenantId, runId, reason string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&ReconciliationRun{}).
		Where("id = ? AND tenant_id = ?", runId, tenantId).
		Updates(map[string]interface{}{
			"status":        RunStatusFailed,
			"error_message": reason,
			"completed_at":  now,
			"updated_at":    now,
		}).Error
}

// ReadingStore loads partner readings for allocation.
type ReadingStore struct {
	db *gorm.DB
}

func NewReadingStore(db *gorm.DB) *ReadingStore {
	return &ReadingStore{db: db}
}

// ListForPeriod returns all non-superseded readings whose measurement date
// falls inside [periodStart, periodEnd]. Superseded rows are corrections that
// were replaced and never count toward approval ratios or allocation.
func (s *ReadingStore) ListForPeriod(ctx context.Context, tenantId string, periodStart, periodEnd time.Time) ([]PartnerReading, error) {
	var readings []PartnerReading
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND measurement_date >= ? AND measurement_date <= ? AND status <> ?",
			tenantId, periodStart, periodEnd, ReviewStatusSuperseded).
		Order("partner_id, measurement_date").
		Find(&readings).Error
	if err != nil {
		return nil, err
	}
	return readings, nil
}

// TenantStore resolves tenant settings.
type TenantStore struct {
	db *gorm.DB
}

func NewTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{db: db}
}

// GetSettings returns the allocation settings for an active tenant, or
// (nil, nil) when the tenant does not exist or is inactive.
func (s *TenantStore) GetSettings(ctx context.Context, tenantId string) (*TenantSettings, error) {
	var tenant Tenant
	err := s.db.WithContext(ctx).
		Where("id = ?", tenantId).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tenant.IsActive != nil && !*tenant.IsActive {
		return nil, nil
	}
	settings := tenant.Settings
	return &settings, nil
}

// PartnerDirectory resolves partner display names.
type PartnerDirectory struct {
	db *gorm.DB
}

func NewPartnerDirectory(db *gorm.DB) *PartnerDirectory {
	return &PartnerDirectory{db: db}
}

// GetDisplayNames returns a partnerId -> name map for the given ids. Ids with
// no partner row are simply absent from the map.
func (d *PartnerDirectory) GetDisplayNames(ctx context.Context, tenantId string, partnerIds []string) (map[string]string, error) {
	if len(partnerIds) == 0 {
		return map[string]string{}, nil
	}
	var partners []Partner
	err := d.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantId, partnerIds).
		Find(&partners).Error
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(partners))
	for _, p := range partners {
		names[p.ID] = p.Name
	}
	return names, nil
}

// AuditStore appends audit rows. Failures are logged, never propagated, so an
// audit problem cannot fail a run.
type AuditStore struct {
	db *gorm.DB
}

func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, entry *AuditLog) {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		config.LogError(config.GetLogger(), moduleName, "AuditStore.Append",
			"failed to write audit log", entry, err)
	}
}
