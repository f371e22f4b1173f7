/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver turns proxy-stream track references into directly
// playable URLs via the external resolver service.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/cache"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

var (
	// ErrNotConfigured means no resolver base URL was configured.
	ErrNotConfigured = errors.New("resolver: service not configured")
	// ErrTrackNotFound means the service has no stream for the reference.
	ErrTrackNotFound = errors.New("resolver: track not found")
)

// Resolved is a playable stream plus display metadata.
type Resolved struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	ArtworkURL string `json:"artwork_url"`
	DurationMs int64  `json:"duration_ms"`
}

// Client resolves track references, caching responses so replays of the
// same track skip the round trip. The cache is best-effort only.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
	log        zerolog.Logger
}

// NewClient creates a resolver client. An empty baseURL yields a client
// whose calls return ErrNotConfigured.
func NewClient(baseURL string, timeout time.Duration, c *cache.Cache, logger zerolog.Logger) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL != "" {
		if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			baseURL = "https://" + baseURL
		}
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout, Transport: telemetry.HTTPTransport()},
		cache:      c,
		log:        logger.With().Str("component", "resolver").Logger(),
	}, nil
}

// Configured reports whether a resolver base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Resolve returns the playable URL and metadata for trackRef.
func (c *Client) Resolve(ctx context.Context, trackRef string) (Resolved, error) {
	if c.baseURL == "" {
		return Resolved{}, ErrNotConfigured
	}
	if trackRef == "" {
		return Resolved{}, fmt.Errorf("resolver: empty track reference")
	}

	if cached, ok := c.cache.GetResolvedTrack(ctx, trackRef); ok {
		return Resolved{
			URL:        cached.URL,
			Title:      cached.Title,
			Artist:     cached.Artist,
			ArtworkURL: cached.ArtworkURL,
			DurationMs: cached.DurationMs,
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/resolve/"+url.PathEscape(trackRef), nil)
	if err != nil {
		return Resolved{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve %s: %w", trackRef, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Resolved{}, ErrTrackNotFound
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Debug().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("resolver call failed")
		return Resolved{}, fmt.Errorf("resolver: unexpected status %d", resp.StatusCode)
	}

	var resolved Resolved
	if err := json.NewDecoder(resp.Body).Decode(&resolved); err != nil {
		return Resolved{}, fmt.Errorf("decode resolved track: %w", err)
	}
	if resolved.URL == "" {
		return Resolved{}, fmt.Errorf("resolver: response carried no stream URL")
	}

	// Cache write is best-effort; a cold cache just costs a round trip.
	_ = c.cache.SetResolvedTrack(ctx, &cache.CachedResolvedTrack{
		TrackRef:   trackRef,
		URL:        resolved.URL,
		Title:      resolved.Title,
		Artist:     resolved.Artist,
		ArtworkURL: resolved.ArtworkURL,
		DurationMs: resolved.DurationMs,
	})

	return resolved, nil
}

// Invalidate drops the cached resolution for trackRef so the next
// Resolve call hits the service again. Resolved URLs can expire before
// their cache entry does; invalidating on playback failure gets a fresh
// link on retry.
func (c *Client) Invalidate(ctx context.Context, trackRef string) error {
	if trackRef == "" {
		return nil
	}
	return c.cache.InvalidateResolvedTrack(ctx, trackRef)
}
