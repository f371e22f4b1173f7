/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package settings serves the singleton player settings row and the
// persisted resume snapshot. The settings row is loaded once on first
// access and every mutation is written back immediately.
package settings

import (
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/models"
)

// Service mediates access to PlayerSettings and ResumeState.
type Service struct {
	db           *gorm.DB
	defaultsPath string
	logger       zerolog.Logger

	mu   sync.RWMutex
	once sync.Once
	cur  models.PlayerSettings
}

// NewService creates a settings service. defaultsPath may point to a YAML
// file whose values seed the settings row the first time it is created;
// an empty path or a missing file means built-in defaults.
func NewService(db *gorm.DB, defaultsPath string, logger zerolog.Logger) *Service {
	return &Service{
		db:           db,
		defaultsPath: defaultsPath,
		logger:       logger.With().Str("component", "settings").Logger(),
	}
}

// Defaults returns the built-in settings values.
func Defaults() models.PlayerSettings {
	return models.PlayerSettings{
		ID:                 1,
		DuckTargetVolume:   20,
		DuckFadeMs:         2000,
		RestoreFadeMs:      2000,
		GaplessEnabled:     true,
		GaplessThresholdMs: 10000,
		DefaultVolume:      80,
	}
}

// Get returns the current settings, loading the singleton row on first use.
// If the row cannot be loaded the built-in defaults are served instead.
func (s *Service) Get() models.PlayerSettings {
	s.load()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Patch carries a partial settings update. Nil fields are left unchanged.
type Patch struct {
	DuckTargetVolume   *int   `json:"duck_target_volume,omitempty"`
	DuckFadeMs         *int64 `json:"duck_fade_ms,omitempty"`
	RestoreFadeMs      *int64 `json:"restore_fade_ms,omitempty"`
	GaplessEnabled     *bool  `json:"gapless_enabled,omitempty"`
	GaplessThresholdMs *int64 `json:"gapless_threshold_ms,omitempty"`
	DefaultVolume      *int   `json:"default_volume,omitempty"`
	UpdatedBy          string `json:"updated_by,omitempty"`
}

func (p Patch) apply(to *models.PlayerSettings) {
	if p.DuckTargetVolume != nil {
		to.DuckTargetVolume = *p.DuckTargetVolume
	}
	if p.DuckFadeMs != nil {
		to.DuckFadeMs = *p.DuckFadeMs
	}
	if p.RestoreFadeMs != nil {
		to.RestoreFadeMs = *p.RestoreFadeMs
	}
	if p.GaplessEnabled != nil {
		to.GaplessEnabled = *p.GaplessEnabled
	}
	if p.GaplessThresholdMs != nil {
		to.GaplessThresholdMs = *p.GaplessThresholdMs
	}
	if p.DefaultVolume != nil {
		to.DefaultVolume = *p.DefaultVolume
	}
	if p.UpdatedBy != "" {
		to.UpdatedBy = p.UpdatedBy
	}
}

// Update applies the patch, clamps the result, and persists it.
func (s *Service) Update(patch Patch) (models.PlayerSettings, error) {
	s.load()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	patch.apply(&next)
	next.Normalize()
	next.ID = 1

	if err := s.db.Save(&next).Error; err != nil {
		return models.PlayerSettings{}, err
	}
	s.cur = next

	s.logger.Info().
		Str("updated_by", next.UpdatedBy).
		Int("default_volume", next.DefaultVolume).
		Bool("gapless", next.GaplessEnabled).
		Msg("player settings updated")

	return next, nil
}

func (s *Service) load() {
	s.once.Do(func() {
		var row models.PlayerSettings
		result := s.db.FirstOrCreate(&row, models.PlayerSettings{ID: 1})
		if result.Error != nil {
			s.logger.Error().Err(result.Error).Msg("loading player settings, serving defaults")
			s.mu.Lock()
			s.cur = Defaults()
			s.mu.Unlock()
			return
		}

		// A freshly created row carries zero values regardless of column
		// defaults, so seed it from the built-ins plus the defaults file.
		if result.RowsAffected > 0 {
			row = s.seedRow()
			if err := s.db.Save(&row).Error; err != nil {
				s.logger.Warn().Err(err).Msg("persisting seeded player settings")
			}
		}

		row.Normalize()
		s.mu.Lock()
		s.cur = row
		s.mu.Unlock()
	})
}

// fileDefaults mirrors the YAML defaults file. Absent keys keep built-ins.
type fileDefaults struct {
	DuckTargetVolume   *int   `yaml:"duck_target_volume"`
	DuckFadeMs         *int64 `yaml:"duck_fade_ms"`
	RestoreFadeMs      *int64 `yaml:"restore_fade_ms"`
	GaplessEnabled     *bool  `yaml:"gapless_enabled"`
	GaplessThresholdMs *int64 `yaml:"gapless_threshold_ms"`
	DefaultVolume      *int   `yaml:"default_volume"`
}

func (s *Service) seedRow() models.PlayerSettings {
	row := Defaults()
	if s.defaultsPath == "" {
		return row
	}

	data, err := os.ReadFile(s.defaultsPath)
	if errors.Is(err, os.ErrNotExist) {
		return row
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.defaultsPath).Msg("reading settings defaults file")
		return row
	}

	var def fileDefaults
	if err := yaml.Unmarshal(data, &def); err != nil {
		s.logger.Warn().Err(err).Str("path", s.defaultsPath).Msg("parsing settings defaults file")
		return row
	}

	if def.DuckTargetVolume != nil {
		row.DuckTargetVolume = *def.DuckTargetVolume
	}
	if def.DuckFadeMs != nil {
		row.DuckFadeMs = *def.DuckFadeMs
	}
	if def.RestoreFadeMs != nil {
		row.RestoreFadeMs = *def.RestoreFadeMs
	}
	if def.GaplessEnabled != nil {
		row.GaplessEnabled = *def.GaplessEnabled
	}
	if def.GaplessThresholdMs != nil {
		row.GaplessThresholdMs = *def.GaplessThresholdMs
	}
	if def.DefaultVolume != nil {
		row.DefaultVolume = *def.DefaultVolume
	}
	row.Normalize()

	return row
}

// Resume returns the persisted resume snapshot, creating an empty row on
// first access.
func (s *Service) Resume() (models.ResumeState, error) {
	state, err := models.GetResumeState(s.db)
	if err != nil {
		return models.ResumeState{}, err
	}
	return *state, nil
}

// SaveResume overwrites the resume snapshot.
func (s *Service) SaveResume(state models.ResumeState) error {
	state.ID = 1
	return s.db.Save(&state).Error
}

// ClearResume forgets the persisted snapshot.
func (s *Service) ClearResume() error {
	return s.db.Save(&models.ResumeState{ID: 1}).Error
}
