/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/models"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

// ScanResult summarizes one pass over the media root.
type ScanResult struct {
	TotalFiles    int           `json:"total_files"`
	NewTracks     int           `json:"new_tracks"`
	UpdatedTracks int           `json:"updated_tracks"`
	RemovedTracks int           `json:"removed_tracks"`
	Errors        int           `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

// Scanner walks the media root and keeps the track index current.
type Scanner struct {
	db        *gorm.DB
	mediaRoot string
	logger    zerolog.Logger
}

// NewScanner creates a media root scanner.
func NewScanner(db *gorm.DB, mediaRoot string, logger zerolog.Logger) *Scanner {
	return &Scanner{
		db:        db,
		mediaRoot: mediaRoot,
		logger:    logger.With().Str("component", "library_scanner").Logger(),
	}
}

// Scan walks the media root, indexes new and changed files, and removes
// rows whose files vanished. Files with unchanged mtime and size are
// skipped without re-reading tags.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	startTime := time.Now()
	result := &ScanResult{}

	s.logger.Info().Str("media_root", s.mediaRoot).Msg("starting library scan")

	known, err := s.getKnownTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("get known tracks: %w", err)
	}

	s.logger.Debug().Int("known_tracks", len(known)).Msg("loaded index state")

	seen := make(map[string]struct{}, len(known))

	err = filepath.Walk(s.mediaRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("error accessing path")
			result.Errors++
			return nil // Continue walking
		}

		// Check context for cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() {
			return nil
		}

		if !isMediaFile(info.Name()) {
			return nil
		}

		result.TotalFiles++

		relPath, err := filepath.Rel(s.mediaRoot, path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to get relative path")
			result.Errors++
			return nil
		}
		seen[relPath] = struct{}{}

		existing, found := known[relPath]
		if found && existing.ModTime.Equal(info.ModTime()) && existing.SizeBytes == info.Size() {
			return nil
		}

		row := s.buildTrackRow(path, relPath, info)
		if found {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
				s.logger.Warn().Err(err).Str("path", relPath).Msg("failed to update track record")
				result.Errors++
				return nil
			}
			result.UpdatedTracks++
		} else {
			row.ID = uuid.NewString()
			if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
				s.logger.Warn().Err(err).Str("path", relPath).Msg("failed to save track record")
				result.Errors++
				return nil
			}
			result.NewTracks++
		}

		s.logger.Debug().
			Str("path", relPath).
			Str("title", row.Title).
			Int64("size", info.Size()).
			Msg("track indexed")

		return nil
	})

	if err != nil && err != context.Canceled {
		return nil, fmt.Errorf("walk media root: %w", err)
	}

	// Drop rows whose files vanished since the last scan.
	for relPath, existing := range known {
		if _, ok := seen[relPath]; ok {
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&models.LibraryTrack{}, "id = ?", existing.ID).Error; err != nil {
			s.logger.Warn().Err(err).Str("path", relPath).Msg("failed to remove vanished track")
			result.Errors++
			continue
		}
		result.RemovedTracks++
	}

	result.Duration = time.Since(startTime)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.LibraryTrack{}).Count(&total).Error; err == nil {
		telemetry.LibraryTracksTotal.Set(float64(total))
	}
	telemetry.LibraryScanDuration.Observe(result.Duration.Seconds())

	s.logger.Info().
		Int("total_files", result.TotalFiles).
		Int("new_tracks", result.NewTracks).
		Int("updated_tracks", result.UpdatedTracks).
		Int("removed_tracks", result.RemovedTracks).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("library scan complete")

	return result, nil
}

// buildTrackRow reads tags from one file. Tag failures fall back to the
// filename so untagged files still index.
func (s *Scanner) buildTrackRow(fullPath, relPath string, info os.FileInfo) *models.LibraryTrack {
	row := &models.LibraryTrack{
		Path:       relPath,
		StorageKey: relPath,
		Title:      strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath)),
		SizeBytes:  info.Size(),
		ModTime:    info.ModTime(),
		ScannedAt:  time.Now(),
	}

	f, err := os.Open(fullPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", relPath).Msg("cannot open file for tag read")
		return row
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", relPath).Msg("no readable tags, using filename")
	} else {
		if title := meta.Title(); title != "" {
			row.Title = title
		}
		row.Artist = meta.Artist()
		row.Album = meta.Album()
		row.HasArtwork = meta.Picture() != nil
	}

	// Tags rarely carry a length, so probe the decoder for one. Formats
	// the player cannot decode keep an unknown duration.
	if ms, err := audio.ProbeDuration(fullPath); err == nil {
		row.DurationMs = ms
	}

	return row
}

// knownTrack is the slice of index state needed to detect changes.
type knownTrack struct {
	ID        string
	CreatedAt time.Time
	ModTime   time.Time
	SizeBytes int64
}

func (s *Scanner) getKnownTracks(ctx context.Context) (map[string]knownTrack, error) {
	var rows []models.LibraryTrack
	if err := s.db.WithContext(ctx).
		Select("id, path, created_at, mod_time, size_bytes").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make(map[string]knownTrack, len(rows))
	for _, r := range rows {
		result[r.Path] = knownTrack{
			ID:        r.ID,
			CreatedAt: r.CreatedAt,
			ModTime:   r.ModTime,
			SizeBytes: r.SizeBytes,
		}
	}
	return result, nil
}

func isMediaFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mp3", ".flac", ".ogg", ".m4a", ".aac", ".wav", ".wma", ".opus":
		return true
	default:
		return false
	}
}
