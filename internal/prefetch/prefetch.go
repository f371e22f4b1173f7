/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package prefetch warms the upcoming track on a silent secondary handle
// so the transition at end-of-track is gapless. Only the local and proxy
// backends participate; the other two preload externally.
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
)

const (
	// DefaultThresholdMs is how close to end-of-track warming begins.
	DefaultThresholdMs int64 = 10000

	// warmTimeout bounds one warm attempt. Anything slower than this
	// would not be ready before the transition anyway.
	warmTimeout = 8 * time.Second
)

// NextProvider supplies pure lookahead at the upcoming track without
// advancing the queue.
type NextProvider interface {
	PeekNext() *player.QueueTrack
}

// Preparer fills a playable URL on tracks that need resolution before
// they can be loaded.
type Preparer interface {
	ResolveTrack(ctx context.Context, track *player.Track) error
}

type slot struct {
	queueID string
	track   player.Track
	handle  audio.Handle
}

// Prefetcher owns the single silent secondary handle. At most one slot
// is warmed at a time, tagged with the queue-id it was prepared for.
type Prefetcher struct {
	opener  audio.Opener
	next    NextProvider
	prepare Preparer
	bus     *events.Bus
	log     zerolog.Logger

	mu          sync.Mutex
	enabled     bool
	thresholdMs int64
	slot        *slot
	warming     string
	gen         int
}

// New creates a prefetcher. prepare may be nil when proxy tracks always
// arrive with their URL attached.
func New(opener audio.Opener, next NextProvider, prepare Preparer, bus *events.Bus, logger zerolog.Logger) *Prefetcher {
	return &Prefetcher{
		opener:      opener,
		next:        next,
		prepare:     prepare,
		bus:         bus,
		enabled:     true,
		thresholdMs: DefaultThresholdMs,
		log:         logger.With().Str("component", "prefetch").Logger(),
	}
}

// SetEnabled turns warming on or off. Disabling discards any warmed slot.
func (p *Prefetcher) SetEnabled(on bool) {
	p.mu.Lock()
	p.enabled = on
	var discarded *slot
	if !on {
		discarded = p.discardLocked()
	}
	p.mu.Unlock()
	p.closeDiscarded(discarded, "disabled")
}

// SetThresholdMs overrides the warm threshold. Values <= 0 restore the
// default.
func (p *Prefetcher) SetThresholdMs(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ms <= 0 {
		ms = DefaultThresholdMs
	}
	p.thresholdMs = ms
}

// MaybeWarm checks whether the live track has entered the warm window
// and starts warming the upcoming track if so. The engine calls it on
// every progress tick; almost all calls return immediately.
func (p *Prefetcher) MaybeWarm(current player.Source, progressMs, durationMs int64) {
	if !eligible(current) || durationMs <= 0 {
		return
	}

	p.mu.Lock()
	enabled := p.enabled
	threshold := p.thresholdMs
	p.mu.Unlock()
	if !enabled {
		return
	}

	remaining := durationMs - progressMs
	if remaining > threshold || remaining <= 0 {
		return
	}

	next := p.next.PeekNext()
	if next == nil || !eligible(next.Source) {
		return
	}

	p.mu.Lock()
	if p.slot != nil && p.slot.queueID == next.QueueID {
		p.mu.Unlock()
		return
	}
	if p.warming == next.QueueID {
		p.mu.Unlock()
		return
	}
	// A slot warmed for some other track is stale now.
	discarded := p.discardLocked()
	gen := p.gen
	p.warming = next.QueueID
	p.mu.Unlock()

	p.closeDiscarded(discarded, "superseded")
	go p.warm(gen, *next)
}

func (p *Prefetcher) warm(gen int, qt player.QueueTrack) {
	ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
	defer cancel()

	track := qt.Track
	if track.URL == "" && p.prepare != nil {
		if err := p.prepare.ResolveTrack(ctx, &track); err != nil {
			p.log.Debug().Err(err).Str("queue_id", qt.QueueID).Msg("prefetch resolve failed")
			p.warmFailed(gen)
			return
		}
	}
	if track.URL == "" {
		p.log.Debug().Str("queue_id", qt.QueueID).Msg("prefetch skipped: no playable url")
		p.warmFailed(gen)
		return
	}

	handle := p.opener.Open()
	handle.SetVolume(0)
	if err := handle.Load(ctx, track.URL); err != nil {
		// Forfeits only the gapless optimization; end-of-track falls
		// back to a cold start.
		handle.Close()
		p.log.Debug().Err(err).Str("queue_id", qt.QueueID).Msg("prefetch load failed")
		p.warmFailed(gen)
		return
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		handle.Close()
		return
	}
	old := p.discardLocked()
	p.slot = &slot{queueID: qt.QueueID, track: track, handle: handle}
	p.warming = ""
	p.mu.Unlock()

	p.closeDiscarded(old, "superseded")
	p.log.Debug().Str("queue_id", qt.QueueID).Str("track_id", track.ID).Msg("next track warmed")
	if p.bus != nil {
		p.bus.Publish(events.EventPrefetchWarmed, events.Payload{
			"queue_id": qt.QueueID,
			"track_id": track.ID,
		})
	}
}

func (p *Prefetcher) warmFailed(gen int) {
	p.mu.Lock()
	if gen == p.gen {
		p.warming = ""
	}
	p.mu.Unlock()
}

// WarmedFor reports whether a warmed handle tagged with the queue-id is
// ready to swap.
func (p *Prefetcher) WarmedFor(queueID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slot != nil && p.slot.queueID == queueID
}

// Warmed returns the tag of the warmed slot, if any.
func (p *Prefetcher) Warmed() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slot == nil {
		return "", false
	}
	return p.slot.queueID, true
}

// SwapToPrefetched hands over the warmed handle at the target volume and
// leaves a cold slot behind. It returns false when the slot is missing
// or tagged for a different queue entry; the handle it returns is always
// tagged with the requested queue-id.
func (p *Prefetcher) SwapToPrefetched(queueID string, targetVolume int) (audio.Handle, player.Track, bool) {
	p.mu.Lock()
	s := p.slot
	if s == nil || s.queueID != queueID {
		p.mu.Unlock()
		return nil, player.Track{}, false
	}
	p.slot = nil
	// The queue has advanced; any in-flight warm is for a stale target.
	p.gen++
	p.warming = ""
	p.mu.Unlock()

	s.handle.SetVolume(targetVolume)
	p.log.Debug().Str("queue_id", queueID).Str("track_id", s.track.ID).Msg("gapless swap")
	return s.handle, s.track, true
}

// Revalidate discards the slot when the upcoming track no longer matches
// its tag. Call after any queue mutation or explicit track change.
func (p *Prefetcher) Revalidate() {
	next := p.next.PeekNext()

	p.mu.Lock()
	var discarded *slot
	if p.slot != nil && (next == nil || p.slot.queueID != next.QueueID) {
		discarded = p.discardLocked()
	}
	if p.warming != "" && (next == nil || p.warming != next.QueueID) {
		p.gen++
		p.warming = ""
	}
	p.mu.Unlock()

	p.closeDiscarded(discarded, "queue changed")
}

// Discard drops the warmed slot and cancels any in-flight warm.
func (p *Prefetcher) Discard(reason string) {
	p.mu.Lock()
	discarded := p.discardLocked()
	p.gen++
	p.warming = ""
	p.mu.Unlock()
	p.closeDiscarded(discarded, reason)
}

// Close releases the warmed handle.
func (p *Prefetcher) Close() error {
	p.Discard("shutdown")
	return nil
}

func (p *Prefetcher) discardLocked() *slot {
	s := p.slot
	p.slot = nil
	return s
}

func (p *Prefetcher) closeDiscarded(s *slot, reason string) {
	if s == nil {
		return
	}
	if err := s.handle.Close(); err != nil {
		p.log.Debug().Err(err).Msg("close discarded handle")
	}
	p.log.Debug().Str("queue_id", s.queueID).Str("reason", reason).Msg("prefetch slot discarded")
	if p.bus != nil {
		p.bus.Publish(events.EventPrefetchDiscarded, events.Payload{
			"queue_id": s.queueID,
			"track_id": s.track.ID,
			"reason":   reason,
		})
	}
}

func eligible(src player.Source) bool {
	return src == player.SourceLocal || src == player.SourceProxy
}
