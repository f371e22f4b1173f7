/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package source implements the four playback backends behind one
// capability interface: remote device control, direct local files, the
// embedded video player, and resolver-proxied streams. Adapters publish
// progress/ended/error events on the bus tagged with their source so the
// engine can ignore events from backends that are no longer active.
package source

import (
	"context"
	"errors"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
)

var (
	// ErrNoPlayableURL is returned when a track reaches a handle-backed
	// adapter without a playable URL.
	ErrNoPlayableURL = errors.New("source: track has no playable url")
	// ErrNoExternalID is returned when a track lacks the service-native id
	// its backend needs.
	ErrNoExternalID = errors.New("source: track has no external id")
)

// Status is one adapter's transport snapshot. Remote status reflects the
// last successful device poll; handle-backed status is read live.
type Status struct {
	Playing    bool  `json:"playing"`
	PositionMs int64 `json:"position_ms"`
	DurationMs int64 `json:"duration_ms"`
	Volume     int   `json:"volume"`
}

// Adapter is the common capability surface of a playback backend.
type Adapter interface {
	Source() player.Source

	// PlayTrack loads the track on this backend and begins playback,
	// returning once playback has started or failed.
	PlayTrack(ctx context.Context, track player.Track) error

	// Play resumes the currently loaded track.
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	// Stop halts playback and resets the position to zero.
	Stop(ctx context.Context) error
	SeekMs(ctx context.Context, positionMs int64) error
	// SetVolume applies 0..100 and remembers it for the next track.
	SetVolume(ctx context.Context, volume int) error

	Status() Status

	Close() error
}

func publishProgress(bus *events.Bus, src player.Source, trackID string, positionMs, durationMs int64, playing bool) {
	if bus == nil {
		return
	}
	bus.Publish(events.EventPlaybackProgress, events.Payload{
		"source":      string(src),
		"track_id":    trackID,
		"position_ms": positionMs,
		"duration_ms": durationMs,
		"playing":     playing,
	})
}

func publishEnded(bus *events.Bus, src player.Source, trackID string) {
	if bus == nil {
		return
	}
	bus.Publish(events.EventPlaybackEnded, events.Payload{
		"source":   string(src),
		"track_id": trackID,
	})
}

func publishError(bus *events.Bus, src player.Source, trackID string, err error) {
	if bus == nil {
		return
	}
	bus.Publish(events.EventPlaybackError, events.Payload{
		"source":   string(src),
		"track_id": trackID,
		"error":    err.Error(),
	})
}
