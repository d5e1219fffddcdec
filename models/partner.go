package models

import "time"

// Partner is the directory entry a reading's partner_id points at.
// Owned by the partner CRUD surface; read here only to resolve display names.
type Partner struct {
	ID        string    `gorm:"primary_key;size:36" json:"id"`
	TenantId  string    `gorm:"size:36;not null;index" json:"tenant_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
