/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes build metadata and a checker that polls GitHub
// for newer release tags.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is the build version, set via ldflags:
//
//	-X github.com/friendsincode/bifrost_player/internal/version.Version=X.Y.Z
var Version = "0.8.1"

// Commit is the git revision the binary was built from, set via ldflags.
var Commit = "unknown"

const releaseEndpoint = "https://api.github.com/repos/friendsincode/bifrost_player/releases/latest"

// UpdateInfo is the result of the most recent release check.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Checker polls for new releases and caches the latest answer.
type Checker struct {
	mu       sync.RWMutex
	info     UpdateInfo
	client   *http.Client
	interval time.Duration
	logger   zerolog.Logger
}

// NewChecker creates a checker that has not yet fetched anything.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: 6 * time.Hour,
		logger:   logger.With().Str("component", "update-checker").Logger(),
		info:     UpdateInfo{CurrentVersion: Version},
	}
}

// Start refreshes once immediately, then on the check interval until ctx
// ends. It blocks; run it on its own goroutine.
func (c *Checker) Start(ctx context.Context) {
	c.refresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// Info returns the cached result of the last release check.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
}

// refresh fetches the latest release. Failures keep the previous answer;
// a player must come up fine with GitHub unreachable.
func (c *Checker) refresh(ctx context.Context) {
	release, err := c.fetchLatest(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("release check failed")
		return
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: semverLess(Version, latest),
		ReleaseURL:      release.HTMLURL,
		ReleaseNotes:    firstLine(release.Body, 200),
		CheckedAt:       time.Now(),
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Str("url", release.HTMLURL).
			Msg("new version available")
	}
}

func (c *Checker) fetchLatest(ctx context.Context) (githubRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseEndpoint, nil)
	if err != nil {
		return githubRelease{}, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Bifrost-Player/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return githubRelease{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return githubRelease{}, fmt.Errorf("release endpoint returned %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return githubRelease{}, fmt.Errorf("decode release: %w", err)
	}
	return release, nil
}

// semverLess reports whether version a sorts before b, comparing up to
// three numeric fields. Non-numeric fields count as zero.
func semverLess(a, b string) bool {
	pa, pb := splitSemver(a), splitSemver(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return false
}

func splitSemver(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(strings.TrimPrefix(v, "v"), ".", 3)
	for i, p := range parts {
		if i >= 3 {
			break
		}
		// Trailing pre-release tags ("1.2.0-rc1") drop off the number.
		if dash := strings.IndexByte(p, '-'); dash >= 0 {
			p = p[:dash]
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}

// firstLine reduces release notes to their first line, capped at maxLen.
func firstLine(s string, maxLen int) string {
	line, _, _ := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	if len(line) > maxLen {
		return line[:maxLen-3] + "..."
	}
	return line
}
