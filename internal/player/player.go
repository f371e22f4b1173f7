/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player holds the core playback domain types shared by the queue,
// the source adapters, and the unified engine.
package player

import "github.com/google/uuid"

// Source identifies which backend owns a track or the audible output.
type Source string

const (
	SourceNone   Source = "none"
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceVideo  Source = "video"
	SourceProxy  Source = "proxy"
)

// Valid reports whether s is one of the known source tags.
func (s Source) Valid() bool {
	switch s {
	case SourceNone, SourceRemote, SourceLocal, SourceVideo, SourceProxy:
		return true
	}
	return false
}

// RepeatMode controls queue advance behavior at the edges.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// Next cycles off -> all -> one -> off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

// Track is one playable item. ExternalID carries the service-native id or URI
// for remote and video tracks; URL carries a directly playable location for
// local and proxy tracks. Either may be empty depending on Source.
type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Source     Source `json:"source"`
	ExternalID string `json:"external_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// QueueTrack is a Track plus its per-insertion queue id. The same track may
// sit in the queue more than once; QueueID is unique across queue and history.
type QueueTrack struct {
	QueueID string `json:"queue_id"`
	Track
}

// NewQueueTrack wraps t with a fresh queue id.
func NewQueueTrack(t Track) QueueTrack {
	return QueueTrack{QueueID: uuid.NewString(), Track: t}
}

// UnifiedState is the single snapshot the engine reconciles from whichever
// adapter is active. At most one adapter is audibly playing at any time.
type UnifiedState struct {
	ActiveSource Source      `json:"active_source"`
	IsPlaying    bool        `json:"is_playing"`
	IsLoading    bool        `json:"is_loading"`
	IsMuted      bool        `json:"is_muted"`
	ProgressMs   int64       `json:"progress_ms"`
	DurationMs   int64       `json:"duration_ms"`
	Volume       int         `json:"volume"`
	CurrentTrack *QueueTrack `json:"current_track,omitempty"`
	Shuffle      bool        `json:"shuffle"`
	Repeat       RepeatMode  `json:"repeat"`
}

// DuckSnapshot records what a ducking envelope must restore. It is captured
// once at duck start and consumed exactly once by the matching resume.
type DuckSnapshot struct {
	PreviousVolume int    `json:"previous_volume"`
	WasPlaying     bool   `json:"was_playing"`
	ActiveSource   Source `json:"active_source"`
}

// SyncAction tags a broadcast playback-state message.
type SyncAction string

const (
	SyncPlay        SyncAction = "play"
	SyncPause       SyncAction = "pause"
	SyncSeek        SyncAction = "seek"
	SyncTrackChange SyncAction = "track_change"
)

// SyncState is the payload exchanged between sessions of the same listener.
type SyncState struct {
	IsPlaying    bool        `json:"is_playing"`
	ProgressMs   int64       `json:"progress_ms"`
	DurationMs   int64       `json:"duration_ms"`
	CurrentTrack *QueueTrack `json:"current_track,omitempty"`
	ActiveSource Source      `json:"active_source"`
	Action       SyncAction  `json:"action"`
}

// ClampVolume bounds v to the 0..100 scale every adapter speaks.
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
