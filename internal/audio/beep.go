/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"
)

const (
	extMP3  = ".mp3"
	extWAV  = ".wav"
	extFLAC = ".flac"
	extOGG  = ".ogg"
)

// mixerRate is the fixed speaker rate; every track is resampled onto it so
// handles with differing native rates can share one mixer.
const mixerRate = beep.SampleRate(44100)

var speakerOnce sync.Once

func initSpeaker() (err error) {
	speakerOnce.Do(func() {
		err = speaker.Init(mixerRate, mixerRate.N(time.Second/10))
	})
	return err
}

// BeepOpener allocates beep-backed handles sharing the process speaker.
type BeepOpener struct {
	log    zerolog.Logger
	client *http.Client
}

// NewBeepOpener creates an opener. The client fetches http(s) sources and may
// be nil for a default with a sane timeout.
func NewBeepOpener(logger zerolog.Logger, client *http.Client) *BeepOpener {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &BeepOpener{
		log:    logger.With().Str("component", "audio").Logger(),
		client: client,
	}
}

func (o *BeepOpener) Open() Handle {
	return &beepHandle{log: o.log, client: o.client, volume: 100}
}

// beepHandle is one decoded track on the shared mixer. Pause keeps the
// control node in the mixer silently; a fresh Load replaces the chain.
type beepHandle struct {
	mu sync.Mutex

	log    zerolog.Logger
	client *http.Client

	closer   io.Closer
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volNode  *effects.Volume

	volume  int
	started bool
	closed  bool

	// generation guards the end-of-media callback: a Load after Play
	// orphans the old chain and its callback must not fire.
	generation int
	onFinished func()
}

func (h *beepHandle) Load(ctx context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.teardownLocked()
	h.generation++

	rsc, cl, err := h.openSource(ctx, url)
	if err != nil {
		return err
	}

	streamer, format, err := decode(url, rsc)
	if err != nil {
		cl.Close()
		return fmt.Errorf("decode %s: %w", url, err)
	}

	h.closer = cl
	h.streamer = streamer
	h.format = format
	h.started = false
	h.log.Debug().Str("url", url).
		Int64("duration_ms", format.SampleRate.D(streamer.Len()).Milliseconds()).
		Msg("media loaded")
	return nil
}

// openSource resolves a local path or http(s) URL into a seekable reader.
// Remote sources are buffered fully so the decoder can seek.
func (h *beepHandle) openSource(ctx context.Context, url string) (io.ReadSeeker, io.Closer, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("read body: %w", err)
		}
		return bytes.NewReader(data), noopCloser{}, nil
	}

	f, err := os.Open(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", url, err)
	}
	return f, f, nil
}

func decode(url string, rsc io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) {
	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	switch ext {
	case extWAV:
		return wav.Decode(rsc)
	case extFLAC:
		return flac.Decode(rsc)
	case extOGG:
		return vorbis.Decode(readSeekNopCloser{rsc})
	case extMP3, "":
		return mp3.Decode(readSeekNopCloser{rsc})
	default:
		// Unknown extensions are almost always transcoded mp3 in
		// practice (resolver output carries no extension).
		return mp3.Decode(readSeekNopCloser{rsc})
	}
}

func (h *beepHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.streamer == nil {
		return ErrNotLoaded
	}

	if h.started {
		speaker.Lock()
		h.ctrl.Paused = false
		speaker.Unlock()
		return nil
	}

	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	resampled := beep.Resample(4, h.format.SampleRate, mixerRate, h.streamer)
	h.ctrl = &beep.Ctrl{Streamer: resampled}
	h.volNode = &effects.Volume{Streamer: h.ctrl, Base: 2}
	h.applyVolumeLocked()

	gen := h.generation
	speaker.Play(beep.Seq(h.volNode, beep.Callback(func() {
		// Separate goroutine so a callback that starts the next track
		// cannot deadlock against the speaker lock.
		go h.finished(gen)
	})))
	h.started = true
	return nil
}

func (h *beepHandle) finished(gen int) {
	h.mu.Lock()
	stale := h.closed || gen != h.generation
	fn := h.onFinished
	h.mu.Unlock()

	if stale || fn == nil {
		return
	}
	fn()
}

func (h *beepHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pauseLocked()
}

func (h *beepHandle) pauseLocked() {
	if h.ctrl == nil {
		return
	}
	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
}

func (h *beepHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pauseLocked()
	if h.streamer != nil {
		speaker.Lock()
		_ = h.streamer.Seek(0)
		speaker.Unlock()
	}
}

func (h *beepHandle) SeekMs(ms int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.streamer == nil {
		return ErrNotLoaded
	}

	speaker.Lock()
	defer speaker.Unlock()
	samples := h.format.SampleRate.N(time.Duration(ms) * time.Millisecond)
	if samples < 0 {
		samples = 0
	}
	if max := h.streamer.Len(); samples > max {
		samples = max
	}
	return h.streamer.Seek(samples)
}

func (h *beepHandle) SetVolume(v int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	h.volume = v
	h.applyVolumeLocked()
}

// applyVolumeLocked maps the 0..100 scale onto the logarithmic volume node.
// Zero flips the Silent flag instead of chasing negative infinity.
func (h *beepHandle) applyVolumeLocked() {
	if h.volNode == nil {
		return
	}
	speaker.Lock()
	if h.volume == 0 {
		h.volNode.Silent = true
	} else {
		h.volNode.Silent = false
		h.volNode.Volume = math.Log2(float64(h.volume) / 100)
	}
	speaker.Unlock()
}

func (h *beepHandle) Volume() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

func (h *beepHandle) PositionMs() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := h.streamer.Position()
	speaker.Unlock()
	return h.format.SampleRate.D(pos).Milliseconds()
}

func (h *beepHandle) DurationMs() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.streamer == nil {
		return 0
	}
	return h.format.SampleRate.D(h.streamer.Len()).Milliseconds()
}

func (h *beepHandle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctrl == nil {
		return false
	}
	speaker.Lock()
	paused := h.ctrl.Paused
	speaker.Unlock()
	return h.started && !paused
}

func (h *beepHandle) OnFinished(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinished = fn
}

func (h *beepHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.teardownLocked()
	h.closed = true
	return nil
}

func (h *beepHandle) teardownLocked() {
	h.pauseLocked()
	if h.streamer != nil {
		_ = h.streamer.Close()
		h.streamer = nil
	}
	if h.closer != nil {
		_ = h.closer.Close()
		h.closer = nil
	}
	h.ctrl = nil
	h.volNode = nil
	h.started = false
}

// readSeekNopCloser adapts an io.ReadSeeker for decoders wanting a closer.
type readSeekNopCloser struct {
	io.ReadSeeker
}

func (readSeekNopCloser) Close() error { return nil }

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
