package engine

import (
	"context"
	"time"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

// eventLoop consumes adapter and queue events until the engine stops.
func (e *Engine) eventLoop() {
	progress := e.bus.Subscribe(events.EventPlaybackProgress)
	ended := e.bus.Subscribe(events.EventPlaybackEnded)
	errs := e.bus.Subscribe(events.EventPlaybackError)
	queueCh := e.bus.Subscribe(events.EventQueueUpdated)
	defer func() {
		e.bus.Unsubscribe(events.EventPlaybackProgress, progress)
		e.bus.Unsubscribe(events.EventPlaybackEnded, ended)
		e.bus.Unsubscribe(events.EventPlaybackError, errs)
		e.bus.Unsubscribe(events.EventQueueUpdated, queueCh)
	}()

	for {
		select {
		case <-e.ctx.Done():
			return
		case payload := <-progress:
			e.handleProgress(payload)
		case payload := <-ended:
			e.handleEnded(payload)
		case payload := <-errs:
			e.handleAdapterError(payload)
		case <-queueCh:
			// Any queue mutation can invalidate the warmed slot.
			if e.prefetch != nil {
				e.prefetch.Revalidate()
			}
		}
	}
}

// handleProgress folds a progress tick from the live backend into the
// internal state and gives the prefetcher its warm-window check.
func (e *Engine) handleProgress(payload events.Payload) {
	src, _ := payload["source"].(string)
	positionMs, _ := payload["position_ms"].(int64)
	durationMs, _ := payload["duration_ms"].(int64)
	playing, _ := payload["playing"].(bool)

	e.mu.Lock()
	if player.Source(src) != e.active {
		e.mu.Unlock()
		return
	}
	e.progressMs = positionMs
	if durationMs > 0 {
		e.durationMs = durationMs
	}
	e.playing = playing
	active := e.active
	saveDue := positionMs-e.savedAtMs >= resumeSaveIntervalMs
	e.mu.Unlock()

	if e.prefetch != nil {
		e.prefetch.MaybeWarm(active, positionMs, durationMs)
	}
	if saveDue {
		e.saveResume()
	}
}

// handleEnded advances the queue when the live track finishes on its
// own.
func (e *Engine) handleEnded(payload events.Payload) {
	src, _ := payload["source"].(string)

	e.mu.Lock()
	if player.Source(src) != e.active {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.finishCurrent(true)
	telemetry.PlaybackAutoAdvanceTotal.WithLabelValues("ended").Inc()
	e.advance()
}

// handleAdapterError reacts to an async failure on the live backend:
// transient notice, then the delayed advance.
func (e *Engine) handleAdapterError(payload events.Payload) {
	src, _ := payload["source"].(string)
	msg, _ := payload["error"].(string)

	e.mu.Lock()
	if player.Source(src) != e.active {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.mu.Unlock()

	telemetry.PlaybackErrorsTotal.WithLabelValues(src).Inc()
	e.logger.Warn().Str("source", src).Str("error", msg).Msg("playback error on live backend")
	e.publishState()
	e.scheduleErrorAdvance()
}

// scheduleErrorAdvance arms the delayed advance that follows a playback
// error. An explicit transport command inside the window supersedes it.
func (e *Engine) scheduleErrorAdvance() {
	e.mu.Lock()
	gen := e.playGen
	e.mu.Unlock()

	time.AfterFunc(errorAdvanceDelay, func() {
		e.mu.Lock()
		superseded := gen != e.playGen || !e.running
		e.mu.Unlock()
		if superseded {
			return
		}
		telemetry.PlaybackAutoAdvanceTotal.WithLabelValues("error").Inc()
		e.advance()
	})
}

// advance moves to the next queue entry, taking the gapless path when a
// warmed handle matches. Hitting the end of the queue stops playback.
func (e *Engine) advance() {
	qt := e.queue.Next()
	if qt == nil {
		e.stopAtQueueEnd()
		return
	}

	if e.trySwapPrefetched(*qt) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := e.playTrack(ctx, *qt); err != nil {
		// A cold start failing on the automatic path must not stall
		// the queue the way a manual failure deliberately does.
		e.logger.Warn().Err(err).Str("queue_id", qt.QueueID).Msg("auto-advance start failed")
		e.scheduleErrorAdvance()
	}
}

// trySwapPrefetched serves the transition from the warmed handle when
// its tag matches the entry becoming current. The handle is already
// loaded and silent, so the new track is audible immediately with no
// loading state.
func (e *Engine) trySwapPrefetched(qt player.QueueTrack) bool {
	if e.prefetch == nil || !e.prefetch.WarmedFor(qt.QueueID) {
		return false
	}

	adopter, ok := e.adapters[qt.Source].(handleAdopter)
	if !ok {
		return false
	}

	e.mu.Lock()
	e.playGen++
	target := e.volume
	if a, found := e.adapters[qt.Source]; found {
		if v := a.Status().Volume; v > 0 {
			target = v
		}
	}
	if e.muted {
		target = 0
	}
	e.mu.Unlock()

	handle, track, ok := e.prefetch.SwapToPrefetched(qt.QueueID, target)
	if !ok {
		return false
	}

	go e.quietAllExcept(qt.Source)

	if err := adopter.Adopt(handle, track); err != nil {
		e.logger.Warn().Err(err).Str("queue_id", qt.QueueID).Msg("adopt warmed handle")
		return false
	}

	cur := qt
	cur.Track = track // the warm pass may have resolved URL and duration

	e.mu.Lock()
	e.current = &cur
	e.active = qt.Source
	e.loading = false
	e.loadedQID = qt.QueueID
	e.playing = true
	e.progressMs = 0
	if track.DurationMs > 0 {
		e.durationMs = track.DurationMs
	} else {
		e.durationMs = qt.DurationMs
	}
	e.startedAt = time.Now()
	e.savedAtMs = 0
	e.mu.Unlock()

	telemetry.GaplessSwapsTotal.Inc()
	telemetry.PlaybackStartsTotal.WithLabelValues(string(qt.Source)).Inc()
	e.logger.Info().
		Str("queue_id", qt.QueueID).
		Str("track_id", track.ID).
		Msg("gapless transition")

	if e.bus != nil {
		e.bus.Publish(events.EventTrackChanged, events.Payload{
			"track_id": track.ID,
			"queue_id": qt.QueueID,
			"source":   string(qt.Source),
			"title":    track.Title,
			"gapless":  true,
		})
	}
	e.publishState()
	e.broadcast(player.SyncTrackChange)
	e.saveResume()
	return true
}

// applyRemoteState mirrors a transition another session of the same
// listener broadcast. Only the local backend is remotely drivable; the
// others need device control this process does not own. Broadcasts are
// suppressed while applying so mirrored transitions cannot ping-pong
// between nodes.
func (e *Engine) applyRemoteState(st player.SyncState) {
	e.mu.Lock()
	e.applyingSync = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.applyingSync = false
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch st.Action {
	case player.SyncPlay:
		e.applyRemotePlay(ctx, st)
	case player.SyncPause:
		e.applyRemotePause(ctx)
	case player.SyncSeek:
		e.applyRemoteSeek(ctx, st.ProgressMs)
	case player.SyncTrackChange:
		e.applyRemoteTrackChange(ctx, st)
	}
}

// applyRemotePlay starts local playback when another session pressed
// play while this one is paused. The start runs muted and unmutes once
// rolling, the same trick browsers use to satisfy autoplay policy.
func (e *Engine) applyRemotePlay(ctx context.Context, st player.SyncState) {
	e.mu.Lock()
	playing := e.isPlayingLocked()
	cur := e.current
	active := e.active
	loaded := cur != nil && e.loadedQID == cur.QueueID
	resumeAt := e.progressMs
	e.mu.Unlock()

	if playing || cur == nil {
		return
	}
	if active != player.SourceLocal || cur.Source != player.SourceLocal {
		return
	}
	a, ok := e.adapters[player.SourceLocal]
	if !ok {
		return
	}

	restore := a.Status().Volume
	if restore == 0 {
		e.mu.Lock()
		restore = e.volume
		e.mu.Unlock()
	}

	if err := a.SetVolume(ctx, 0); err != nil {
		e.logger.Debug().Err(err).Msg("mute before mirrored start")
	}

	var err error
	if loaded {
		err = a.Play(ctx)
	} else {
		err = e.playTrack(ctx, *cur)
		at := resumeAt
		if st.ProgressMs > 0 {
			at = st.ProgressMs
		}
		if err == nil && at > 0 {
			if serr := e.seekMs(ctx, at); serr != nil {
				e.logger.Debug().Err(serr).Msg("seek after mirrored start")
			}
		}
	}
	if err != nil {
		e.logger.Warn().Err(err).Msg("apply remote play")
		if verr := a.SetVolume(ctx, restore); verr != nil {
			e.logger.Debug().Err(verr).Msg("restore volume after failed mirror")
		}
		return
	}

	if err := a.SetVolume(ctx, restore); err != nil {
		e.logger.Debug().Err(err).Msg("unmute after mirrored start")
	}

	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	e.publishState()
}

func (e *Engine) applyRemotePause(ctx context.Context) {
	e.mu.Lock()
	src := e.active
	e.mu.Unlock()
	if src != player.SourceLocal {
		return
	}
	a, ok := e.adapters[src]
	if !ok {
		return
	}
	if err := a.Pause(ctx); err != nil {
		e.logger.Debug().Err(err).Msg("apply remote pause")
		return
	}

	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.publishState()
}

// applyRemoteSeek repositions without re-fetching. The internal position
// updates even when nothing is loaded so a later Play resumes there.
func (e *Engine) applyRemoteSeek(ctx context.Context, positionMs int64) {
	e.mu.Lock()
	src := e.active
	loaded := e.loadedQID != ""
	e.mu.Unlock()
	if src != player.SourceLocal {
		return
	}

	if loaded {
		if a, ok := e.adapters[src]; ok {
			if err := a.SeekMs(ctx, positionMs); err != nil {
				e.logger.Debug().Err(err).Msg("apply remote seek")
			}
		}
	}

	e.mu.Lock()
	e.progressMs = positionMs
	e.mu.Unlock()
	e.publishState()
}

// applyRemoteTrackChange mirrors another session starting a local
// track. Queue ids are per-process, so matching is by track id.
func (e *Engine) applyRemoteTrackChange(ctx context.Context, st player.SyncState) {
	if st.CurrentTrack == nil || st.CurrentTrack.Source != player.SourceLocal {
		return
	}

	e.mu.Lock()
	same := e.current != nil && e.current.ID == st.CurrentTrack.ID && e.loadedQID != ""
	e.mu.Unlock()
	if same {
		return
	}

	qt := player.NewQueueTrack(st.CurrentTrack.Track)
	if err := e.playTrack(ctx, qt); err != nil {
		e.logger.Warn().Err(err).Str("track_id", qt.ID).Msg("apply remote track change")
		return
	}
	if !st.IsPlaying {
		if err := e.Pause(ctx); err != nil {
			e.logger.Debug().Err(err).Msg("pause after mirrored track change")
		}
	}
}
