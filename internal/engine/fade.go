package engine

import (
	"context"
	"time"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/source"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

// quietAllExcept crossfades every audibly-playing adapter except keep
// down to silence, stops it, and puts its remembered volume back so the
// next start on that backend is not silent. Already-quiet adapters are
// reset without ramping. Everything here is best-effort: failures log,
// nothing surfaces.
func (e *Engine) quietAllExcept(keep player.Source) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	type fading struct {
		a    source.Adapter
		from int
	}
	var live []fading
	for src, a := range e.adapters {
		if src == keep {
			continue
		}
		st := a.Status()
		switch {
		case st.Playing:
			live = append(live, fading{a: a, from: st.Volume})
		case st.PositionMs > 0 || st.DurationMs > 0:
			// Paused with media loaded: reset immediately.
			e.bestEffortStop(ctx, a)
		}
	}
	if len(live) == 0 {
		return
	}

	step := crossfadeWindow / crossfadeSteps
	for i := 1; i <= crossfadeSteps; i++ {
		for _, f := range live {
			v := f.from - f.from*i/crossfadeSteps
			if err := f.a.SetVolume(ctx, v); err != nil {
				e.logger.Debug().Err(err).Str("source", string(f.a.Source())).Msg("crossfade volume")
			}
		}
		time.Sleep(step)
	}

	for _, f := range live {
		e.bestEffortStop(ctx, f.a)
		if f.a.Source() == player.SourceRemote {
			// Device-side volume is external state; leave it alone.
			continue
		}
		if err := f.a.SetVolume(ctx, f.from); err != nil {
			e.logger.Debug().Err(err).Str("source", string(f.a.Source())).Msg("restore volume after stop")
		}
	}
}

// bestEffortStop stops one adapter, fire-and-forget for the remote
// backend so a slow network call cannot delay the incoming start.
func (e *Engine) bestEffortStop(ctx context.Context, a source.Adapter) {
	if a.Source() == player.SourceRemote {
		go func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if err := a.Stop(stopCtx); err != nil {
				e.logger.Debug().Err(err).Msg("remote stop")
			}
		}()
		return
	}
	if err := a.Stop(ctx); err != nil {
		e.logger.Debug().Err(err).Str("source", string(a.Source())).Msg("stop adapter")
	}
}

// StopAllAudio crossfades every backend to silence and resets positions.
// The current track stays visible for a later restart.
func (e *Engine) StopAllAudio() {
	e.mu.Lock()
	e.playGen++
	e.mu.Unlock()

	e.finishCurrent(false)
	e.quietAllExcept(player.SourceNone)

	e.mu.Lock()
	e.playing = false
	e.progressMs = 0
	e.mu.Unlock()
	e.publishState()
	e.saveResume()
}

// FadeAllAndPause runs the ducking envelope: capture a restore snapshot,
// ramp every adapter linearly to targetVolume in equal steps, then pause
// everything. Remote failures are swallowed so the envelope never stalls
// on a misbehaving backend. The returned snapshot is also held as the
// pending duck until consumed.
func (e *Engine) FadeAllAndPause(ctx context.Context, targetVolume int, durationMs int64) player.DuckSnapshot {
	targetVolume = player.ClampVolume(targetVolume)

	e.mu.Lock()
	snap := player.DuckSnapshot{
		PreviousVolume: e.currentVolumeLocked(),
		WasPlaying:     e.isPlayingLocked(),
		ActiveSource:   e.active,
	}
	e.pendingDuck = &snap
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(events.EventDuckStarted, events.Payload{
			"target_volume": targetVolume,
			"duration_ms":   durationMs,
		})
	}

	stepDur := time.Duration(durationMs/duckSteps) * time.Millisecond
	from := snap.PreviousVolume
	for i := 1; i <= duckSteps; i++ {
		v := from + (targetVolume-from)*i/duckSteps
		e.setAllVolumes(ctx, v)
		time.Sleep(stepDur)
	}

	e.pauseAll(ctx)

	e.mu.Lock()
	e.playing = false
	// The ramp leaves volume at the target; restore re-raises it.
	e.volume = targetVolume
	e.mu.Unlock()
	e.publishState()

	telemetry.DuckEnvelopesTotal.WithLabelValues("duck").Inc()
	e.logger.Info().
		Int("target_volume", targetVolume).
		Int64("duration_ms", durationMs).
		Msg("ducked and paused")
	return snap
}

// ResumeAll restores playback from a duck snapshot. A snapshot captured
// while nothing was playing makes this a no-op. The previously active
// source is restored regardless of what is selected now.
func (e *Engine) ResumeAll(ctx context.Context, snap player.DuckSnapshot, durationMs int64) {
	e.mu.Lock()
	e.pendingDuck = nil
	e.mu.Unlock()

	if !snap.WasPlaying {
		e.logger.Debug().Msg("duck restore skipped: nothing was playing")
		return
	}

	a, ok := e.adapters[snap.ActiveSource]
	if !ok {
		e.logger.Warn().Str("source", string(snap.ActiveSource)).Msg("duck restore: source has no adapter")
		return
	}

	e.mu.Lock()
	e.active = snap.ActiveSource
	e.mu.Unlock()

	// Start silent, then ramp back up to the pre-duck level.
	if err := a.SetVolume(ctx, 0); err != nil {
		e.logger.Debug().Err(err).Msg("zero volume before restore")
	}
	if err := a.Play(ctx); err != nil {
		e.logger.Warn().Err(err).Str("source", string(snap.ActiveSource)).Msg("restart after duck")
	}

	stepDur := time.Duration(durationMs/duckSteps) * time.Millisecond
	for i := 1; i <= duckSteps; i++ {
		v := snap.PreviousVolume * i / duckSteps
		e.setAllVolumes(ctx, v)
		time.Sleep(stepDur)
	}

	e.mu.Lock()
	// The pre-duck level becomes the global volume again.
	e.volume = snap.PreviousVolume
	e.playing = true
	e.mu.Unlock()
	e.publishState()

	if e.bus != nil {
		e.bus.Publish(events.EventDuckEnded, events.Payload{
			"restored_volume": snap.PreviousVolume,
			"source":          string(snap.ActiveSource),
		})
	}
	telemetry.DuckEnvelopesTotal.WithLabelValues("restore").Inc()
	e.logger.Info().Int("volume", snap.PreviousVolume).Msg("duck restored")
}

// ResumeFromDuck consumes the snapshot stored by the last
// FadeAllAndPause. Each snapshot restores at most once; with none
// pending it reports false.
func (e *Engine) ResumeFromDuck(ctx context.Context, durationMs int64) bool {
	e.mu.Lock()
	snap := e.pendingDuck
	e.pendingDuck = nil
	e.mu.Unlock()
	if snap == nil {
		return false
	}
	e.ResumeAll(ctx, *snap, durationMs)
	return true
}

// setAllVolumes applies one volume to every adapter. Failures log and
// are swallowed.
func (e *Engine) setAllVolumes(ctx context.Context, volume int) {
	for _, a := range e.adapters {
		if err := a.SetVolume(ctx, volume); err != nil {
			e.logger.Debug().Err(err).Str("source", string(a.Source())).Msg("set volume")
		}
	}
}

// pauseAll pauses every adapter, the remote one fire-and-forget.
func (e *Engine) pauseAll(ctx context.Context) {
	for _, a := range e.adapters {
		if a.Source() == player.SourceRemote {
			go func(ra source.Adapter) {
				pCtx, cancel := context.WithTimeout(context.Background(), commandTimeout)
				defer cancel()
				if err := ra.Pause(pCtx); err != nil {
					e.logger.Debug().Err(err).Msg("remote pause")
				}
			}(a)
			continue
		}
		if err := a.Pause(ctx); err != nil {
			e.logger.Debug().Err(err).Str("source", string(a.Source())).Msg("pause adapter")
		}
	}
}

// currentVolumeLocked reads the audible volume: the active adapter's
// level when one is active, the global level otherwise.
func (e *Engine) currentVolumeLocked() int {
	if a, ok := e.adapters[e.active]; ok {
		return a.Status().Volume
	}
	return e.volume
}

// isPlayingLocked reads is-playing the way the unified snapshot does:
// polled device state for the remote backend, internal state otherwise.
func (e *Engine) isPlayingLocked() bool {
	if e.active == player.SourceRemote {
		if a, ok := e.adapters[e.active]; ok {
			return a.Status().Playing
		}
	}
	return e.playing
}
