package models

import (
	"time"

	"github.com/friendsincode/bifrost_player/internal/player"
)

// Listener represents an authenticated account. Password holds a bcrypt hash.
type Listener struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Email       string `gorm:"uniqueIndex"`
	Password    string
	DisplayName string `gorm:"type:varchar(64)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LibraryTrack is an indexed audio file under the media root.
type LibraryTrack struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	Path       string `gorm:"uniqueIndex"`
	StorageKey string
	Title      string `gorm:"index"`
	Artist     string `gorm:"index"`
	Album      string `gorm:"index"`
	DurationMs int64
	HasArtwork bool
	SizeBytes  int64
	ModTime    time.Time
	ScannedAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ToTrack converts the indexed row into a local-source track. The playable
// URL is issued separately by the storage backend.
func (t LibraryTrack) ToTrack() player.Track {
	return player.Track{
		ID:         t.ID,
		Title:      t.Title,
		Artist:     t.Artist,
		DurationMs: t.DurationMs,
		Source:     player.SourceLocal,
	}
}

// PlayHistory stores one finished or abandoned playback.
type PlayHistory struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TrackID    string `gorm:"index"`
	QueueID    string `gorm:"type:uuid"`
	Title      string `gorm:"index"`
	Artist     string `gorm:"index"`
	Source     string `gorm:"type:varchar(16);index"`
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMs int64
	Completed  bool
}
