/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/remote"
)

// endedSlackMs is how close to the item's end the last playing poll must
// have been for a playing->paused flip to count as a natural finish.
const endedSlackMs = 2000

// RemoteAdapter drives the connect-style streaming service. Transport
// operations are network calls against whatever device currently holds
// playback; state is polled on an interval while the adapter is active.
type RemoteAdapter struct {
	client       *remote.Client
	pollInterval time.Duration
	bus          *events.Bus
	log          zerolog.Logger

	mu       sync.Mutex
	track    player.Track
	volume   int
	snapshot *remote.Snapshot
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewRemoteAdapter creates the remote backend. pollInterval <= 0 falls
// back to one second.
func NewRemoteAdapter(client *remote.Client, pollInterval time.Duration, bus *events.Bus, logger zerolog.Logger) *RemoteAdapter {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RemoteAdapter{
		client:       client,
		pollInterval: pollInterval,
		bus:          bus,
		volume:       100,
		log:          logger.With().Str("component", "source").Str("source", string(player.SourceRemote)).Logger(),
	}
}

func (a *RemoteAdapter) Source() player.Source { return player.SourceRemote }

// Configured reports whether the remote service is reachable at all.
func (a *RemoteAdapter) Configured() bool { return a.client.Configured() }

func (a *RemoteAdapter) PlayTrack(ctx context.Context, track player.Track) error {
	if track.ExternalID == "" {
		return ErrNoExternalID
	}

	// ErrNoActiveDevice passes through so the caller can wake a device
	// up and retry.
	if err := a.client.Play(ctx, []string{track.ExternalID}, ""); err != nil {
		return err
	}

	a.mu.Lock()
	a.track = track
	a.startPollLocked()
	a.mu.Unlock()

	a.log.Debug().Str("track_id", track.ID).Str("uri", track.ExternalID).Msg("remote playback started")
	return nil
}

// WakeUp transfers control to a known web-capable device so a follow-up
// play command has somewhere to land. A no-op when a device is already
// active.
func (a *RemoteAdapter) WakeUp(ctx context.Context) error {
	devices, err := a.client.Devices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	target := ""
	for _, d := range devices {
		if d.IsActive {
			return nil
		}
		if target == "" && strings.EqualFold(d.Type, "computer") {
			target = d.ID
		}
	}
	if target == "" {
		return remote.ErrNoActiveDevice
	}

	if err := a.client.Transfer(ctx, target, false); err != nil {
		return fmt.Errorf("transfer control: %w", err)
	}
	a.log.Info().Str("device_id", target).Msg("woke up remote device")
	return nil
}

func (a *RemoteAdapter) Play(ctx context.Context) error {
	if err := a.client.Play(ctx, nil, ""); err != nil {
		return err
	}
	a.mu.Lock()
	a.startPollLocked()
	a.mu.Unlock()
	return nil
}

func (a *RemoteAdapter) Pause(ctx context.Context) error {
	return a.client.Pause(ctx)
}

func (a *RemoteAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopPollLocked()
	a.snapshot = nil
	a.mu.Unlock()

	if err := a.client.Pause(ctx); err != nil {
		if errors.Is(err, remote.ErrNoActiveDevice) {
			return nil
		}
		return err
	}
	if err := a.client.Seek(ctx, 0); err != nil && !errors.Is(err, remote.ErrNoActiveDevice) {
		a.log.Debug().Err(err).Msg("reset remote position")
	}
	return nil
}

func (a *RemoteAdapter) SeekMs(ctx context.Context, positionMs int64) error {
	return a.client.Seek(ctx, positionMs)
}

// SetVolume applies the volume to the active device. Failures with no
// active device are swallowed: the desired volume is remembered and lands
// with the next play.
func (a *RemoteAdapter) SetVolume(ctx context.Context, volume int) error {
	volume = player.ClampVolume(volume)
	a.mu.Lock()
	a.volume = volume
	a.mu.Unlock()

	if err := a.client.SetVolume(ctx, volume); err != nil {
		if errors.Is(err, remote.ErrNoActiveDevice) {
			a.log.Debug().Int("volume", volume).Msg("volume set with no active device")
			return nil
		}
		return err
	}
	return nil
}

func (a *RemoteAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{Volume: a.volume}
	if a.snapshot == nil {
		return st
	}
	st.Playing = a.snapshot.IsPlaying
	st.PositionMs = a.snapshot.ProgressMs
	if a.snapshot.Item != nil {
		st.DurationMs = a.snapshot.Item.DurationMs
	}
	if a.snapshot.Device != nil && a.snapshot.Device.VolumePercent != nil {
		st.Volume = *a.snapshot.Device.VolumePercent
	}
	return st
}

func (a *RemoteAdapter) Close() error {
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

func (a *RemoteAdapter) startPollLocked() {
	if a.stopCh != nil || a.closed {
		return
	}
	stopCh := make(chan struct{})
	a.stopCh = stopCh
	a.wg.Add(1)
	go a.pollLoop(stopCh)
}

func (a *RemoteAdapter) stopPollLocked() {
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
}

func (a *RemoteAdapter) pollLoop(stopCh chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			a.poll()
		}
	}
}

func (a *RemoteAdapter) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), a.pollInterval)
	defer cancel()

	snap, err := a.client.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrNoActiveDevice) {
			a.mu.Lock()
			a.snapshot = nil
			a.mu.Unlock()
			return
		}
		a.log.Debug().Err(err).Msg("remote snapshot poll failed")
		return
	}

	a.mu.Lock()
	prev := a.snapshot
	a.snapshot = snap
	trackID := a.track.ID
	a.mu.Unlock()

	var durationMs int64
	if snap.Item != nil {
		durationMs = snap.Item.DurationMs
	}
	publishProgress(a.bus, player.SourceRemote, trackID, snap.ProgressMs, durationMs, snap.IsPlaying)

	// The device flips to paused when the item runs out; treat that as a
	// natural finish only if the last playing poll was near the end.
	if prev != nil && prev.IsPlaying && !snap.IsPlaying && nearItemEnd(prev) {
		a.log.Debug().Str("track_id", trackID).Msg("remote item finished")
		publishEnded(a.bus, player.SourceRemote, trackID)
	}
}

func nearItemEnd(s *remote.Snapshot) bool {
	if s.Item == nil || s.Item.DurationMs == 0 {
		return false
	}
	return s.Item.DurationMs-s.ProgressMs <= endedSlackMs
}
