/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package videohost tracks the embedded video player the video source
// adapter drives. At most one player is registered at a time: browser
// embed pages register over the API, and a rod-driven headless host can
// stand in on deployments without a browser client.
package videohost

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/events"
)

// ErrNoPlayerRegistered is returned for video operations when no embed
// player instance is registered.
var ErrNoPlayerRegistered = errors.New("videohost: no player registered")

// PlayerState describes the embed player's transport state.
type PlayerState string

const (
	StateUnstarted PlayerState = "unstarted"
	StatePlaying   PlayerState = "playing"
	StatePaused    PlayerState = "paused"
	StateBuffering PlayerState = "buffering"
	StateEnded     PlayerState = "ended"
)

// Host is the control surface of one embedded video player.
type Host interface {
	// Load cues a video by its external id. Title is advisory and may be
	// empty.
	Load(ctx context.Context, videoID, title string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	// Stop halts playback and resets the position to zero.
	Stop(ctx context.Context) error
	SeekMs(ctx context.Context, positionMs int64) error
	// SetVolume accepts 0..100.
	SetVolume(ctx context.Context, volume int) error
	CurrentTimeMs(ctx context.Context) (int64, error)
	DurationMs(ctx context.Context) (int64, error)
	PlayerState(ctx context.Context) (PlayerState, error)
	Close() error
}

// Registry holds the currently registered player instance. Registration
// is last-writer-wins; a replaced instance is closed.
type Registry struct {
	mu   sync.RWMutex
	host Host
	name string

	bus *events.Bus
	log zerolog.Logger
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(bus *events.Bus, logger zerolog.Logger) *Registry {
	return &Registry{
		bus: bus,
		log: logger.With().Str("component", "videohost").Logger(),
	}
}

// Register installs a player instance under a display name, replacing
// any previous one.
func (r *Registry) Register(name string, h Host) {
	r.mu.Lock()
	prev := r.host
	r.host = h
	r.name = name
	r.mu.Unlock()

	if prev != nil && prev != h {
		if err := prev.Close(); err != nil {
			r.log.Debug().Err(err).Msg("close replaced video player")
		}
	}

	r.log.Info().Str("player", name).Msg("video player registered")
	if r.bus != nil {
		r.bus.Publish(events.EventPlayerRegistered, events.Payload{"player": name})
	}
}

// Unregister removes h if it is still the registered instance. A stale
// unregister from a replaced player is a no-op.
func (r *Registry) Unregister(h Host) {
	r.mu.Lock()
	if r.host != h {
		r.mu.Unlock()
		return
	}
	name := r.name
	r.host = nil
	r.name = ""
	r.mu.Unlock()

	if err := h.Close(); err != nil {
		r.log.Debug().Err(err).Msg("close unregistered video player")
	}

	r.log.Info().Str("player", name).Msg("video player unregistered")
	if r.bus != nil {
		r.bus.Publish(events.EventPlayerUnregistered, events.Payload{"player": name})
	}
}

// Active returns the registered player, or ErrNoPlayerRegistered.
func (r *Registry) Active() (Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.host == nil {
		return nil, ErrNoPlayerRegistered
	}
	return r.host, nil
}

// HasPlayer reports whether a player is registered.
func (r *Registry) HasPlayer() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host != nil
}

// ActiveName returns the registered player's display name, or "".
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}
