/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package remote is the JSON/HTTP client for the connect-style streaming
// service. Token refresh is handled externally; the client only reads the
// current bearer token through a TokenSource.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

var (
	// ErrNoActiveDevice means the service has no device currently holding
	// playback. Recoverable: transfer control to a known device first.
	ErrNoActiveDevice = errors.New("remote: no active device")
	// ErrDeviceNotFound means the requested device id is unknown or offline.
	ErrDeviceNotFound = errors.New("remote: device not found")
	// ErrUnauthorized means the bearer token was rejected; the external
	// refresher has to supply a new one.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrNotConfigured means no service base URL was configured.
	ErrNotConfigured = errors.New("remote: service not configured")
)

// TokenSource returns the current bearer token.
type TokenSource func() string

// Device is one playback target known to the service.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent *int   `json:"volume_percent"`
}

// SnapshotItem is the track the service reports as current.
type SnapshotItem struct {
	ID         string `json:"id"`
	URI        string `json:"uri"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	DurationMs int64  `json:"duration_ms"`
}

// Snapshot is the polled player state.
type Snapshot struct {
	IsPlaying  bool          `json:"is_playing"`
	ProgressMs int64         `json:"progress_ms"`
	Device     *Device       `json:"device"`
	Item       *SnapshotItem `json:"item"`
}

// Client talks to the remote service player API.
type Client struct {
	baseURL    string
	token      TokenSource
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a client for the service at baseURL. An empty baseURL
// yields a client whose every call returns ErrNotConfigured, which lets the
// engine treat "remote backend absent" uniformly.
func NewClient(baseURL string, token TokenSource, logger zerolog.Logger) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL != "" {
		if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			baseURL = "https://" + baseURL
		}
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: telemetry.HTTPTransport(),
		},
		log: logger.With().Str("component", "remote").Logger(),
	}, nil
}

// Configured reports whether a service base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Snapshot fetches the current player state. A service with nothing playing
// anywhere answers 204/404; both map to ErrNoActiveDevice.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/me/player", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, ErrNoActiveDevice
	default:
		return nil, c.statusError(resp)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Play starts playback of uris, optionally on a specific device.
func (c *Client) Play(ctx context.Context, uris []string, deviceID string) error {
	path := "/me/player/play"
	if deviceID != "" {
		path += "?device_id=" + url.QueryEscape(deviceID)
	}

	var body io.Reader
	if len(uris) > 0 {
		raw, err := json.Marshal(map[string]any{"uris": uris})
		if err != nil {
			return fmt.Errorf("marshal play body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	resp, err := c.doRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.expectNoContent(resp)
}

// Pause pauses the active device.
func (c *Client) Pause(ctx context.Context) error {
	return c.simpleCommand(ctx, http.MethodPut, "/me/player/pause")
}

// Next skips the active device forward.
func (c *Client) Next(ctx context.Context) error {
	return c.simpleCommand(ctx, http.MethodPost, "/me/player/next")
}

// Previous skips the active device backward.
func (c *Client) Previous(ctx context.Context) error {
	return c.simpleCommand(ctx, http.MethodPost, "/me/player/previous")
}

// SetVolume sets the active device volume (0-100).
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	return c.simpleCommand(ctx, http.MethodPut, "/me/player/volume?volume_percent="+strconv.Itoa(volume))
}

// Seek repositions the active device.
func (c *Client) Seek(ctx context.Context, positionMs int64) error {
	if positionMs < 0 {
		positionMs = 0
	}
	return c.simpleCommand(ctx, http.MethodPut, "/me/player/seek?position_ms="+strconv.FormatInt(positionMs, 10))
}

// Devices lists the playback targets known to the service.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/me/player/devices", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var payload struct {
		Devices []Device `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return payload.Devices, nil
}

// Transfer moves playback control to the named device.
func (c *Client) Transfer(ctx context.Context, deviceID string, play bool) error {
	raw, err := json.Marshal(map[string]any{
		"device_ids": []string{deviceID},
		"play":       play,
	})
	if err != nil {
		return fmt.Errorf("marshal transfer body: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPut, "/me/player", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDeviceNotFound
	}
	return c.expectNoContent(resp)
}

// simpleCommand issues a bodyless transport command.
func (c *Client) simpleCommand(ctx context.Context, method, path string) error {
	resp, err := c.doRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.expectNoContent(resp)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// expectNoContent accepts the 2xx family; transport commands answer 204.
func (c *Client) expectNoContent(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.statusError(resp)
}

func (c *Client) statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNoActiveDevice
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.log.Debug().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("remote call failed")
	return fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
}
