/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/resolver"
)

// TrackResolver turns a proxied track reference into a playable URL and
// can drop a resolution that turned out to be stale.
type TrackResolver interface {
	Resolve(ctx context.Context, ref string) (resolver.Resolved, error)
	Invalidate(ctx context.Context, ref string) error
}

// ProxyAdapter plays resolver-proxied streams. It is the local backend
// behind a URL resolution step: once resolved, tracks run on the same
// handle model with the same error policy.
type ProxyAdapter struct {
	*handleAdapter
	resolver TrackResolver
}

// NewProxyAdapter creates the proxy-stream backend.
func NewProxyAdapter(res TrackResolver, opener audio.Opener, bus *events.Bus, logger zerolog.Logger) *ProxyAdapter {
	return &ProxyAdapter{
		handleAdapter: newHandleAdapter(player.SourceProxy, opener, bus, logger),
		resolver:      res,
	}
}

func (p *ProxyAdapter) PlayTrack(ctx context.Context, track player.Track) error {
	if err := p.ResolveTrack(ctx, &track); err != nil {
		return err
	}
	if err := p.handleAdapter.PlayTrack(ctx, track); err != nil {
		// The resolved URL may have expired between resolution and
		// open. Dropping it makes the next attempt resolve fresh.
		if ref := proxyRef(track); ref != "" {
			if ierr := p.resolver.Invalidate(ctx, ref); ierr != nil {
				p.log.Debug().Err(ierr).Str("ref", ref).Msg("invalidate resolved track")
			}
		}
		return err
	}
	return nil
}

// ResolveTrack fills the playable URL and any missing metadata in place.
// Tracks that already carry a URL pass through untouched. The prefetcher
// calls this before warming a proxy track.
func (p *ProxyAdapter) ResolveTrack(ctx context.Context, track *player.Track) error {
	if track.URL != "" {
		return nil
	}

	ref := proxyRef(*track)
	if ref == "" {
		return ErrNoExternalID
	}

	resolved, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		return fmt.Errorf("resolve proxy track: %w", err)
	}

	track.URL = resolved.URL
	if track.Title == "" {
		track.Title = resolved.Title
	}
	if track.Artist == "" {
		track.Artist = resolved.Artist
	}
	if track.ArtworkURL == "" {
		track.ArtworkURL = resolved.ArtworkURL
	}
	if track.DurationMs == 0 {
		track.DurationMs = resolved.DurationMs
	}
	return nil
}

// proxyRef picks the reference the resolver keys on.
func proxyRef(track player.Track) string {
	if track.ExternalID != "" {
		return track.ExternalID
	}
	return track.ID
}
