/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/videohost"
)

const (
	videoPollInterval = 500 * time.Millisecond

	// videoPollFailLimit is how many consecutive poll failures the
	// adapter tolerates before declaring the track dead.
	videoPollFailLimit = 4
)

// VideoAdapter drives the registered embed player. The embed owns
// playback start once it receives a video id, and it has no native
// progress events, so a poll loop runs at ~2 Hz while active.
type VideoAdapter struct {
	registry *videohost.Registry
	bus      *events.Bus
	log      zerolog.Logger

	mu        sync.Mutex
	track     player.Track
	volume    int
	status    Status
	endedFor  string
	pollFails int
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closed    bool
}

// NewVideoAdapter creates the embedded-video backend.
func NewVideoAdapter(registry *videohost.Registry, bus *events.Bus, logger zerolog.Logger) *VideoAdapter {
	return &VideoAdapter{
		registry: registry,
		bus:      bus,
		volume:   100,
		log:      logger.With().Str("component", "source").Str("source", string(player.SourceVideo)).Logger(),
	}
}

func (a *VideoAdapter) Source() player.Source { return player.SourceVideo }

func (a *VideoAdapter) PlayTrack(ctx context.Context, track player.Track) error {
	if track.ExternalID == "" {
		return ErrNoExternalID
	}
	host, err := a.registry.Active()
	if err != nil {
		return err
	}

	if err := host.Load(ctx, track.ExternalID, track.Title); err != nil {
		return err
	}

	a.mu.Lock()
	volume := a.volume
	a.track = track
	a.endedFor = ""
	a.pollFails = 0
	a.status = Status{Volume: volume, DurationMs: track.DurationMs}
	a.startPollLocked()
	a.mu.Unlock()

	if err := host.SetVolume(ctx, volume); err != nil {
		a.log.Debug().Err(err).Msg("set embed volume")
	}

	a.log.Debug().Str("track_id", track.ID).Str("video_id", track.ExternalID).Msg("embed playback cued")
	return nil
}

func (a *VideoAdapter) Play(ctx context.Context) error {
	host, err := a.registry.Active()
	if err != nil {
		return err
	}
	if err := host.Play(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.startPollLocked()
	a.mu.Unlock()
	return nil
}

func (a *VideoAdapter) Pause(ctx context.Context) error {
	host, err := a.registry.Active()
	if err != nil {
		return err
	}
	return host.Pause(ctx)
}

func (a *VideoAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopPollLocked()
	a.status = Status{Volume: a.volume}
	a.mu.Unlock()

	host, err := a.registry.Active()
	if err != nil {
		// Stopping with no embed registered leaves nothing to do.
		return nil
	}
	return host.Stop(ctx)
}

func (a *VideoAdapter) SeekMs(ctx context.Context, positionMs int64) error {
	host, err := a.registry.Active()
	if err != nil {
		return err
	}
	return host.SeekMs(ctx, positionMs)
}

func (a *VideoAdapter) SetVolume(ctx context.Context, volume int) error {
	volume = player.ClampVolume(volume)
	a.mu.Lock()
	a.volume = volume
	a.mu.Unlock()

	host, err := a.registry.Active()
	if err != nil {
		return err
	}
	return host.SetVolume(ctx, volume)
}

func (a *VideoAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.status
	st.Volume = a.volume
	return st
}

func (a *VideoAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stopPollLocked()
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

func (a *VideoAdapter) startPollLocked() {
	if a.stopCh != nil || a.closed {
		return
	}
	stopCh := make(chan struct{})
	a.stopCh = stopCh
	a.wg.Add(1)
	go a.pollLoop(stopCh)
}

func (a *VideoAdapter) stopPollLocked() {
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
}

func (a *VideoAdapter) pollLoop(stopCh chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(videoPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !a.poll() {
				a.mu.Lock()
				if a.stopCh == stopCh {
					a.stopCh = nil
				}
				a.mu.Unlock()
				return
			}
		}
	}
}

// poll reads the embed player state once. It returns false when the loop
// should stop: the player vanished or kept failing.
func (a *VideoAdapter) poll() bool {
	a.mu.Lock()
	track := a.track
	a.mu.Unlock()

	host, err := a.registry.Active()
	if err != nil {
		// The embed went away mid-track. That ends the track.
		a.log.Warn().Str("track_id", track.ID).Msg("embed player unregistered while active")
		publishError(a.bus, player.SourceVideo, track.ID, err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), videoPollInterval)
	defer cancel()

	state, err := host.PlayerState(ctx)
	if err != nil {
		return a.pollFailed(track.ID, err)
	}
	positionMs, err := host.CurrentTimeMs(ctx)
	if err != nil {
		return a.pollFailed(track.ID, err)
	}
	durationMs, err := host.DurationMs(ctx)
	if err != nil {
		return a.pollFailed(track.ID, err)
	}

	playing := state == videohost.StatePlaying

	a.mu.Lock()
	a.pollFails = 0
	a.status = Status{
		Playing:    playing,
		PositionMs: positionMs,
		DurationMs: durationMs,
		Volume:     a.volume,
	}
	alreadyEnded := a.endedFor == track.ID
	if state == videohost.StateEnded {
		a.endedFor = track.ID
	}
	a.mu.Unlock()

	if playing {
		publishProgress(a.bus, player.SourceVideo, track.ID, positionMs, durationMs, true)
	}
	if state == videohost.StateEnded && !alreadyEnded {
		a.log.Debug().Str("track_id", track.ID).Msg("embed video finished")
		publishEnded(a.bus, player.SourceVideo, track.ID)
	}
	return true
}

func (a *VideoAdapter) pollFailed(trackID string, err error) bool {
	a.mu.Lock()
	a.pollFails++
	fails := a.pollFails
	a.mu.Unlock()

	if fails < videoPollFailLimit {
		a.log.Debug().Err(err).Int("consecutive_fails", fails).Msg("embed poll failed")
		return true
	}

	a.log.Warn().Err(err).Str("track_id", trackID).Msg("embed player stopped responding")
	publishError(a.bus, player.SourceVideo, trackID, err)
	return false
}
