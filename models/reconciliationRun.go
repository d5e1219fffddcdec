package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PartnerAllocation is the persisted per-partner slice of a run result.
type PartnerAllocation struct {
	PartnerId                   string             `json:"partner_id"`
	PartnerName                 string             `json:"partner_name"`
	GrossVolume                 float64            `json:"gross_volume"`
	BswPercent                  float64            `json:"bsw_percent"`
	WaterCutFactor              float64            `json:"water_cut_factor"`
	NetVolumeObserved           float64            `json:"net_volume_observed"`
	TemperatureCorrectionFactor float64            `json:"temperature_correction_factor"`
	ApiCorrectionFactor         float64            `json:"api_correction_factor"`
	NetVolumeStandard           float64            `json:"net_volume_standard"`
	OwnershipPercent            float64            `json:"ownership_percent"`
	AllocatedVolume             float64            `json:"allocated_volume"`
	IntermediateCalculations    map[string]float64 `json:"intermediate_calculations"`
}

// ReconciliationResult is the full result document stored on a completed run.
type ReconciliationResult struct {
	TotalGrossVolume        float64             `json:"total_gross_volume"`
	TotalNetVolumeStandard  float64             `json:"total_net_volume_standard"`
	TotalAllocatedVolume    float64             `json:"total_allocated_volume"`
	ShrinkageVolume         float64             `json:"shrinkage_volume"`
	ShrinkagePercent        float64             `json:"shrinkage_percent"`
	PartnerAllocations      []PartnerAllocation `json:"partner_allocations"`
	AllocationModelUsed     AllocationModel     `json:"allocation_model_used"`
	ApprovedReadingCount    int                 `json:"approved_reading_count"`
	ContributingPartnerSize int                 `json:"contributing_partner_size"`
}

// ReconciliationRun is the orchestration record for one billing period.
// Status is the only field this service mutates after creation; completed and
// failed are terminal. The result document is stored as JSON on the row.
type ReconciliationRun struct {
	ID             string          `gorm:"primary_key;size:36" json:"id"`
	TenantId       string          `gorm:"size:36;not null;index:idx_run_tenant_created" json:"tenant_id"`
	PeriodStart    time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time       `gorm:"not null" json:"period_end"`
	TerminalVolume decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"terminal_volume"`
	TriggeredBy    string          `gorm:"size:36" json:"triggered_by"`
	Status         RunStatus       `gorm:"type:enum('pending','processing','completed','failed');default:pending;index" json:"status"`
	Result         []byte          `gorm:"type:json" json:"result,omitempty"`
	ErrorMessage   *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index:idx_run_tenant_created" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// DecodeResult unmarshals the stored result document. Returns nil when the
// run has no result yet.
func (r *ReconciliationRun) DecodeResult() (*ReconciliationResult, error) {
	if len(r.Result) == 0 {
		return nil, nil
	}
	var res ReconciliationResult
	if err := json.Unmarshal(r.Result, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EncodeResult marshals a result document for storage.
func EncodeResult(res *ReconciliationResult) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	return json.Marshal(res)
}
