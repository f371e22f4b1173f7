/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookEventType defines types of webhook events.
type WebhookEventType string

const (
	WebhookEventTrackChanged  WebhookEventType = "track_changed"
	WebhookEventStateUpdated  WebhookEventType = "state_updated"
	WebhookEventPlaybackError WebhookEventType = "playback_error"
	WebhookEventDuckStarted   WebhookEventType = "duck_started"
	WebhookEventDuckEnded     WebhookEventType = "duck_ended"
)

// WebhookTarget stores an outbound webhook subscription. Events holds a
// comma separated list of event names; empty means every event.
type WebhookTarget struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	Name   string `gorm:"type:varchar(128)" json:"name"`
	URL    string `gorm:"type:varchar(512);not null" json:"url"`
	Events string `gorm:"type:varchar(255)" json:"events"`
	Secret string `gorm:"type:varchar(255)" json:"-"` // for HMAC signing
	Active bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WebhookTarget) TableName() string {
	return "webhook_targets"
}

// Subscribed reports whether the target wants event.
func (t *WebhookTarget) Subscribed(event string) bool {
	if t.Events == "" {
		return true
	}
	for _, e := range strings.Split(t.Events, ",") {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

// NewWebhookTarget creates an active webhook target with a fresh
// signing secret.
func NewWebhookTarget(name, url, events string) *WebhookTarget {
	return &WebhookTarget{
		ID:     uuid.NewString(),
		Name:   name,
		URL:    url,
		Events: events,
		Secret: uuid.NewString(),
		Active: true,
	}
}

// WebhookLog records one delivery attempt.
type WebhookLog struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID   string    `gorm:"type:uuid;index;not null" json:"target_id"`
	Event      string    `gorm:"type:varchar(64);not null" json:"event"`
	StatusCode int       `json:"status_code"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Duration   int       `json:"duration_ms"` // Response time in milliseconds
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (WebhookLog) TableName() string {
	return "webhook_logs"
}
