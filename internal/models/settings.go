/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayerSettings stores runtime-configurable playback settings.
// Uses singleton pattern with a fixed ID=1 row.
type PlayerSettings struct {
	ID                 int       `gorm:"primaryKey" json:"-"`
	DuckTargetVolume   int       `gorm:"default:20" json:"duck_target_volume"`
	DuckFadeMs         int64     `gorm:"default:2000" json:"duck_fade_ms"`
	RestoreFadeMs      int64     `gorm:"default:2000" json:"restore_fade_ms"`
	GaplessEnabled     bool      `gorm:"default:true" json:"gapless_enabled"`
	GaplessThresholdMs int64     `gorm:"default:10000" json:"gapless_threshold_ms"`
	DefaultVolume      int       `gorm:"default:80" json:"default_volume"`
	UpdatedBy          string    `gorm:"type:varchar(64)" json:"updated_by,omitempty"`
	CreatedAt          time.Time `json:"-"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (PlayerSettings) TableName() string {
	return "player_settings"
}

// Normalize clamps every field to its usable range.
func (s *PlayerSettings) Normalize() {
	if s.DuckTargetVolume < 0 {
		s.DuckTargetVolume = 0
	}
	if s.DuckTargetVolume > 100 {
		s.DuckTargetVolume = 100
	}
	if s.DefaultVolume < 0 {
		s.DefaultVolume = 0
	}
	if s.DefaultVolume > 100 {
		s.DefaultVolume = 100
	}
	if s.DuckFadeMs < 0 {
		s.DuckFadeMs = 0
	}
	if s.RestoreFadeMs < 0 {
		s.RestoreFadeMs = 0
	}
	if s.GaplessThresholdMs <= 0 {
		s.GaplessThresholdMs = 10000
	}
}

// GetPlayerSettings retrieves the singleton settings row, creating it if it doesn't exist.
func GetPlayerSettings(db *gorm.DB) (*PlayerSettings, error) {
	var settings PlayerSettings
	result := db.FirstOrCreate(&settings, PlayerSettings{ID: 1})
	if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// ResumeState remembers the last audible track across restarts.
// Uses singleton pattern with a fixed ID=1 row.
type ResumeState struct {
	ID         int       `gorm:"primaryKey" json:"-"`
	TrackID    string    `json:"track_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Artist     string    `json:"artist,omitempty"`
	ArtworkURL string    `json:"artwork_url,omitempty"`
	Source     string    `gorm:"type:varchar(16)" json:"source,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	PositionMs int64     `json:"position_ms"`
	DurationMs int64     `json:"duration_ms"`
	Volume     int       `json:"volume"`
	WasPlaying bool      `json:"was_playing"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ResumeState) TableName() string {
	return "resume_state"
}

// HasTrack reports whether the row holds something worth resuming.
func (r *ResumeState) HasTrack() bool {
	return r.TrackID != ""
}

// GetResumeState retrieves the singleton resume row, creating it if it doesn't exist.
func GetResumeState(db *gorm.DB) (*ResumeState, error) {
	var state ResumeState
	result := db.FirstOrCreate(&state, ResumeState{ID: 1})
	if result.Error != nil {
		return nil, result.Error
	}
	return &state, nil
}
