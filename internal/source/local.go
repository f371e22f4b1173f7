/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
)

const handlePollInterval = 500 * time.Millisecond

// handleAdapter is the shared core of the local and proxy backends: one
// live media handle plus a progress poll loop.
type handleAdapter struct {
	source player.Source
	opener audio.Opener
	bus    *events.Bus
	log    zerolog.Logger

	mu     sync.Mutex
	handle audio.Handle
	track  player.Track
	volume int
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

func newHandleAdapter(src player.Source, opener audio.Opener, bus *events.Bus, logger zerolog.Logger) *handleAdapter {
	return &handleAdapter{
		source: src,
		opener: opener,
		bus:    bus,
		volume: 100,
		log:    logger.With().Str("component", "source").Str("source", string(src)).Logger(),
	}
}

func (a *handleAdapter) Source() player.Source { return a.source }

func (a *handleAdapter) PlayTrack(ctx context.Context, track player.Track) error {
	if track.URL == "" {
		return ErrNoPlayableURL
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return audio.ErrClosed
	}
	if a.handle == nil {
		a.handle = a.opener.Open()
	}
	handle := a.handle
	volume := a.volume
	a.mu.Unlock()

	if err := handle.Load(ctx, track.URL); err != nil {
		return fmt.Errorf("load %s track: %w", a.source, err)
	}

	handle.SetVolume(volume)
	handle.OnFinished(func() { a.finished(track.ID) })
	if err := handle.Play(); err != nil {
		return fmt.Errorf("start %s playback: %w", a.source, err)
	}

	a.mu.Lock()
	a.track = track
	a.startPollLocked()
	a.mu.Unlock()

	a.log.Debug().Str("track_id", track.ID).Msg("playback started")
	return nil
}

// Adopt replaces the live handle with an already-playable one, closing
// the previous handle. The gapless swap path hands warmed handles over
// this way so the new track starts without a cold load.
func (a *handleAdapter) Adopt(h audio.Handle, track player.Track) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		h.Close()
		return audio.ErrClosed
	}
	old := a.handle
	a.handle = h
	a.track = track
	a.volume = h.Volume()
	a.startPollLocked()
	a.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			a.log.Debug().Err(err).Msg("close previous handle")
		}
	}

	h.OnFinished(func() { a.finished(track.ID) })
	if err := h.Play(); err != nil {
		return fmt.Errorf("start adopted handle: %w", err)
	}

	a.log.Debug().Str("track_id", track.ID).Msg("adopted warmed handle")
	return nil
}

func (a *handleAdapter) Play(ctx context.Context) error {
	handle := a.currentHandle()
	if handle == nil {
		return audio.ErrNotLoaded
	}
	if err := handle.Play(); err != nil {
		return err
	}
	a.mu.Lock()
	a.startPollLocked()
	a.mu.Unlock()
	return nil
}

func (a *handleAdapter) Pause(ctx context.Context) error {
	handle := a.currentHandle()
	if handle == nil {
		return audio.ErrNotLoaded
	}
	handle.Pause()
	return nil
}

func (a *handleAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	handle := a.handle
	a.stopPollLocked()
	a.mu.Unlock()
	if handle == nil {
		return nil
	}
	handle.Stop()
	return nil
}

func (a *handleAdapter) SeekMs(ctx context.Context, positionMs int64) error {
	handle := a.currentHandle()
	if handle == nil {
		return audio.ErrNotLoaded
	}
	return handle.SeekMs(positionMs)
}

func (a *handleAdapter) SetVolume(ctx context.Context, volume int) error {
	volume = player.ClampVolume(volume)
	a.mu.Lock()
	a.volume = volume
	handle := a.handle
	a.mu.Unlock()
	if handle != nil {
		handle.SetVolume(volume)
	}
	return nil
}

func (a *handleAdapter) Status() Status {
	a.mu.Lock()
	handle := a.handle
	volume := a.volume
	a.mu.Unlock()
	if handle == nil {
		return Status{Volume: volume}
	}
	return Status{
		Playing:    handle.Playing(),
		PositionMs: handle.PositionMs(),
		DurationMs: handle.DurationMs(),
		Volume:     volume,
	}
}

func (a *handleAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stopPollLocked()
	handle := a.handle
	a.handle = nil
	a.mu.Unlock()

	a.wg.Wait()
	if handle != nil {
		return handle.Close()
	}
	return nil
}

func (a *handleAdapter) currentHandle() audio.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

func (a *handleAdapter) finished(trackID string) {
	a.log.Debug().Str("track_id", trackID).Msg("media finished")
	publishEnded(a.bus, a.source, trackID)
}

func (a *handleAdapter) startPollLocked() {
	if a.stopCh != nil || a.closed {
		return
	}
	stopCh := make(chan struct{})
	a.stopCh = stopCh
	a.wg.Add(1)
	go a.pollLoop(stopCh)
}

func (a *handleAdapter) stopPollLocked() {
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
}

func (a *handleAdapter) pollLoop(stopCh chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(handlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			a.mu.Lock()
			handle := a.handle
			trackID := a.track.ID
			a.mu.Unlock()
			if handle == nil || !handle.Playing() {
				continue
			}
			publishProgress(a.bus, a.source, trackID, handle.PositionMs(), handle.DurationMs(), true)
		}
	}
}

// LocalAdapter plays library files on a direct media handle. Tracks must
// arrive with their playable URL already attached.
type LocalAdapter struct {
	*handleAdapter
}

// NewLocalAdapter creates the local-file backend.
func NewLocalAdapter(opener audio.Opener, bus *events.Bus, logger zerolog.Logger) *LocalAdapter {
	return &LocalAdapter{handleAdapter: newHandleAdapter(player.SourceLocal, opener, bus, logger)}
}
