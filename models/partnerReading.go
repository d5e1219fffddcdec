package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartnerReading is one measured submission from a producing partner.
// Rows are written by ingestion and mutated by the review workflow; this
// service treats them as read-only input.
type PartnerReading struct {
	ID              string          `gorm:"primary_key;size:36" json:"id"`
	TenantId        string          `gorm:"size:36;not null;index:idx_reading_tenant_date" json:"tenant_id"`
	PartnerId       string          `gorm:"size:36;not null;index" json:"partner_id"`
	MeasurementDate time.Time       `gorm:"not null;index:idx_reading_tenant_date" json:"measurement_date"`
	GrossVolume     decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"gross_volume"`
	BswPercent      float64         `gorm:"not null" json:"bsw_percent"`
	Temperature     float64         `gorm:"not null" json:"temperature"`
	ApiGravity      float64         `gorm:"not null" json:"api_gravity"`
	Pressure        *float64        `json:"pressure"`
	MeterFactor     decimal.Decimal `gorm:"type:decimal(10,6);default:1" json:"meter_factor"`
	Status          ReviewStatus    `gorm:"type:enum('unreviewed','approved','rejected','superseded');default:unreviewed;index" json:"status"`
	SubmittedBy     string          `gorm:"size:36" json:"submitted_by"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
