/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio provides the direct media handle used by the local-file and
// proxy-stream backends: one decodable slot on the shared speaker mixer.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrNotLoaded is returned by transport operations before Load succeeds.
	ErrNotLoaded = errors.New("audio: no media loaded")
	// ErrClosed is returned once a handle has been closed.
	ErrClosed = errors.New("audio: handle closed")
	// ErrUnsupportedMedia is returned when no decoder matches the source.
	ErrUnsupportedMedia = errors.New("audio: unsupported media type")
)

// Handle is a single playback primitive. A handle loads one source at a
// time; loading again replaces the previous media at position zero.
// Volume runs 0..100 with 0 fully silent, so a secondary handle can be
// warmed without ever becoming audible.
type Handle interface {
	// Load fetches and decodes the source (local path or http(s) URL)
	// and leaves the position at zero. It does not start playback.
	Load(ctx context.Context, url string) error

	Play() error
	Pause()
	// Stop pauses and resets the position to zero.
	Stop()
	SeekMs(ms int64) error

	SetVolume(v int)
	Volume() int

	PositionMs() int64
	DurationMs() int64
	Playing() bool

	// OnFinished registers the natural end-of-media callback. Manual
	// Stop/Close never fire it.
	OnFinished(fn func())

	Close() error
}

// Opener allocates fresh handles. The engine owns one for the live track and
// the prefetcher allocates silent secondaries from the same opener.
type Opener interface {
	Open() Handle
}
