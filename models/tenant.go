package models

import "time"

// TenantSettings are the allocation parameters a tenant can configure.
type TenantSettings struct {
	AllocationModel     AllocationModel `gorm:"type:varchar(50);default:api_mpms_11_1" json:"allocation_model"`
	StandardTemperature float64         `gorm:"default:60" json:"standard_temperature"`
	StandardPressure    float64         `gorm:"default:14.696" json:"standard_pressure"`
}

// Tenant is the owning organization of readings, partners and runs.
// CRUD lives outside this service; only settings are read here.
type Tenant struct {
	ID        string         `gorm:"primary_key;size:36" json:"id"`
	Name      string         `gorm:"size:100;not null" json:"name"`
	Settings  TenantSettings `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
	IsActive  *bool          `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
