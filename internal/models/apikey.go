/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// APIKey is a long lived credential for programmatic access to the
// control API. Only a hash of the key is stored; the plaintext is shown
// to the listener once at creation and cannot be recovered afterwards.
type APIKey struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	ListenerID string     `gorm:"type:uuid;index;not null" json:"listener_id"`
	Listener   Listener   `gorm:"foreignKey:ListenerID" json:"-"`
	Name       string     `gorm:"not null" json:"name"`
	KeyHash    string     `gorm:"not null" json:"-"`
	KeyPrefix  string     `gorm:"size:11" json:"key_prefix"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
