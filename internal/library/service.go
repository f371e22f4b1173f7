/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/config"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/models"
	"github.com/friendsincode/bifrost_player/internal/player"
)

// ErrTrackNotFound is returned when an id is absent from the index.
var ErrTrackNotFound = errors.New("library: track not found")

// ErrNoArtwork is returned when a track carries no embedded picture.
var ErrNoArtwork = errors.New("library: no artwork")

// Storage abstracts where indexed files live. The index itself always
// describes the media root; Storage only issues playable URLs and owns
// file-level removal.
type Storage interface {
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	CheckAccess(ctx context.Context) error
}

// Service indexes the media root and hands out playable local tracks.
type Service struct {
	db        *gorm.DB
	storage   Storage
	scanner   *Scanner
	watcher   *Watcher
	bus       *events.Bus
	mediaRoot string
	logger    zerolog.Logger
}

// NewService creates a library service using filesystem or S3 storage
// based on config.
func NewService(cfg *config.Config, db *gorm.DB, bus *events.Bus, logger zerolog.Logger) (*Service, error) {
	var storage Storage

	if cfg.Storage == config.StorageS3 {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}

		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, some operations may fail")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.MediaRoot, logger)
	}

	return &Service{
		db:        db,
		storage:   storage,
		scanner:   NewScanner(db, cfg.MediaRoot, logger),
		bus:       bus,
		mediaRoot: cfg.MediaRoot,
		logger:    logger.With().Str("component", "library").Logger(),
	}, nil
}

// Scan refreshes the index from the media root and notifies listeners
// when anything changed so cached listings invalidate.
func (s *Service) Scan(ctx context.Context) (*ScanResult, error) {
	result, err := s.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	if s.bus != nil && result.NewTracks+result.UpdatedTracks+result.RemovedTracks > 0 {
		s.bus.Publish(events.EventLibraryUpdated, events.Payload{
			"new":     result.NewTracks,
			"updated": result.UpdatedTracks,
			"removed": result.RemovedTracks,
		})
	}

	return result, nil
}

// StartWatching begins watching the media root and rescans when files
// change on disk.
func (s *Service) StartWatching(ctx context.Context) error {
	w, err := NewWatcher(s.mediaRoot, s.logger, func() {
		if _, err := s.Scan(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("rescan after filesystem change failed")
		}
	})
	if err != nil {
		return fmt.Errorf("start library watcher: %w", err)
	}

	s.watcher = w
	w.Start(ctx)
	return nil
}

// Close stops the filesystem watcher if one is running.
func (s *Service) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// List returns a page of indexed tracks, optionally filtered by a
// case-insensitive search over title, artist, and album.
func (s *Service) List(ctx context.Context, search string, page, pageSize int) ([]models.LibraryTrack, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 25
	}

	query := s.db.WithContext(ctx).Model(&models.LibraryTrack{})
	if search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(artist) LIKE ? OR LOWER(album) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count tracks: %w", err)
	}

	var tracks []models.LibraryTrack
	offset := (page - 1) * pageSize
	if err := query.
		Order("artist, album, title").
		Offset(offset).
		Limit(pageSize).
		Find(&tracks).Error; err != nil {
		return nil, 0, fmt.Errorf("list tracks: %w", err)
	}

	return tracks, total, nil
}

// Get finds an indexed track by id. Returns nil when the id is unknown.
func (s *Service) Get(ctx context.Context, id string) (*models.LibraryTrack, error) {
	var track models.LibraryTrack
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&track).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get track: %w", err)
	}
	return &track, nil
}

// PlayableTrack converts an indexed row into a queueable track carrying
// a ready-to-play URL from the active storage backend.
func (s *Service) PlayableTrack(ctx context.Context, id string) (*player.Track, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}

	track := row.ToTrack()
	url, err := s.storage.URL(ctx, row.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("issue track url: %w", err)
	}
	track.URL = url

	return &track, nil
}

// ResolveTrack fills in a fresh playable URL for a local track. Prefetch
// calls this right before warm-up so presigned URLs issued at queue time
// cannot expire inside the gapless window.
func (s *Service) ResolveTrack(ctx context.Context, track *player.Track) error {
	if track.Source != player.SourceLocal {
		return nil
	}

	row, err := s.Get(ctx, track.ID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, track.ID)
	}

	url, err := s.storage.URL(ctx, row.StorageKey)
	if err != nil {
		return fmt.Errorf("issue track url: %w", err)
	}
	track.URL = url
	if track.DurationMs == 0 {
		track.DurationMs = row.DurationMs
	}

	return nil
}

// Artwork re-reads the embedded picture for a track from the media root.
// Pictures are flagged during scans but never cached in the database.
func (s *Service) Artwork(ctx context.Context, id string) ([]byte, string, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if row == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	if !row.HasArtwork {
		return nil, "", ErrNoArtwork
	}

	f, err := os.Open(filepath.Join(s.mediaRoot, row.Path))
	if err != nil {
		return nil, "", fmt.Errorf("open media file: %w", err)
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return nil, "", fmt.Errorf("read tags: %w", err)
	}

	pic := meta.Picture()
	if pic == nil {
		return nil, "", ErrNoArtwork
	}

	mime := pic.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return pic.Data, mime, nil
}

// Delete removes a track from the index and optionally its file.
func (s *Service) Delete(ctx context.Context, id string, removeFile bool) error {
	row, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}

	if removeFile {
		if err := s.storage.Delete(ctx, row.StorageKey); err != nil {
			return fmt.Errorf("delete media file: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).Delete(&models.LibraryTrack{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete track record: %w", err)
	}

	s.logger.Info().Str("track_id", id).Bool("file_deleted", removeFile).Msg("library track deleted")

	if s.bus != nil {
		s.bus.Publish(events.EventTrackDeleted, events.Payload{"track_id": id})
	}

	return nil
}

// Stats returns aggregate numbers about the index.
func (s *Service) Stats(ctx context.Context) (count int64, totalSize int64, err error) {
	if err := s.db.WithContext(ctx).Model(&models.LibraryTrack{}).Count(&count).Error; err != nil {
		return 0, 0, fmt.Errorf("count tracks: %w", err)
	}

	var result struct {
		TotalSize int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.LibraryTrack{}).
		Select("COALESCE(SUM(size_bytes), 0) as total_size").
		Scan(&result).Error; err != nil {
		return 0, 0, fmt.Errorf("sum track sizes: %w", err)
	}

	return count, result.TotalSize, nil
}

// CheckStorageAccess verifies that the storage backend is reachable.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}
