/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for control-plane operations.
const (
	AuditActionAPIKeyCreate   AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke   AuditAction = "apikey.revoke"
	AuditActionSettingsUpdate AuditAction = "settings.update"
	AuditActionDeviceTransfer AuditAction = "device.transfer"
	AuditActionTrackDelete    AuditAction = "track.delete"
	AuditActionDuckEngage     AuditAction = "duck.engage"
	AuditActionDuckRelease    AuditAction = "duck.release"
)

// AuditLog records control operations for later review.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	ListenerID   *string        `gorm:"type:uuid;index:idx_audit_listener"` // NULL for system actions
	ListenerName string         `gorm:"type:varchar(64)"`                   // Denormalized for readability
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType string         `gorm:"type:varchar(64)"` // "apikey", "settings", "device", etc.
	ResourceID   string         `gorm:"type:varchar(64)"` // ID of the affected resource
	Details      map[string]any `gorm:"type:jsonb;serializer:json"`
	IPAddress    string         `gorm:"type:varchar(45)"` // IPv4 or IPv6
	UserAgent    string         `gorm:"type:varchar(512)"`
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
