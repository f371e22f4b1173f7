package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
)

type fakeHandle struct {
	mu         sync.Mutex
	loadedURL  string
	loadErr    error
	playErr    error
	playing    bool
	positionMs int64
	durationMs int64
	volume     int
	onFinished func()
	closed     bool
	playCalls  int
}

func (f *fakeHandle) Load(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loadedURL = url
	f.positionMs = 0
	return nil
}

func (f *fakeHandle) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.playing = true
	f.playCalls++
	return nil
}

func (f *fakeHandle) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
}

func (f *fakeHandle) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.positionMs = 0
}

func (f *fakeHandle) SeekMs(ms int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionMs = ms
	return nil
}

func (f *fakeHandle) SetVolume(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func (f *fakeHandle) Volume() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakeHandle) PositionMs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positionMs
}

func (f *fakeHandle) DurationMs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.durationMs
}

func (f *fakeHandle) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeHandle) OnFinished(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFinished = fn
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.playing = false
	return nil
}

// finish simulates the media running out.
func (f *fakeHandle) finish() {
	f.mu.Lock()
	fn := f.onFinished
	f.playing = false
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeHandle) setPosition(ms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionMs = ms
}

type fakeOpener struct {
	mu          sync.Mutex
	handles     []*fakeHandle
	nextLoadErr error
}

func (o *fakeOpener) Open() audio.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &fakeHandle{volume: 100, durationMs: 180000, loadErr: o.nextLoadErr}
	o.nextLoadErr = nil
	o.handles = append(o.handles, h)
	return h
}

func (o *fakeOpener) last(t *testing.T) *fakeHandle {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.handles) == 0 {
		t.Fatal("no handle was opened")
	}
	return o.handles[len(o.handles)-1]
}

func TestPlayTrackRequiresURL(t *testing.T) {
	a := NewLocalAdapter(&fakeOpener{}, nil, zerolog.Nop())
	defer a.Close()

	err := a.PlayTrack(context.Background(), player.Track{ID: "t1", Source: player.SourceLocal})
	if !errors.Is(err, ErrNoPlayableURL) {
		t.Fatalf("expected ErrNoPlayableURL, got %v", err)
	}
}

func TestPlayTrackLoadsAndStartsAtStoredVolume(t *testing.T) {
	opener := &fakeOpener{}
	a := NewLocalAdapter(opener, nil, zerolog.Nop())
	defer a.Close()

	// Volume set before any track must land on the first handle.
	if err := a.SetVolume(context.Background(), 55); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}

	track := player.Track{ID: "t1", Source: player.SourceLocal, URL: "/media/one.mp3"}
	if err := a.PlayTrack(context.Background(), track); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}

	h := opener.last(t)
	if h.loadedURL != "/media/one.mp3" {
		t.Errorf("expected handle to load track URL, got %q", h.loadedURL)
	}
	if h.Volume() != 55 {
		t.Errorf("expected stored volume 55, got %d", h.Volume())
	}
	if !h.Playing() {
		t.Error("expected playback to start")
	}

	st := a.Status()
	if !st.Playing || st.Volume != 55 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestPlayTrackLoadErrorReturnsWithoutStarting(t *testing.T) {
	opener := &fakeOpener{nextLoadErr: errors.New("decode failed")}
	a := NewLocalAdapter(opener, nil, zerolog.Nop())
	defer a.Close()

	track := player.Track{ID: "t1", URL: "/media/broken.mp3"}
	err := a.PlayTrack(context.Background(), track)
	if err == nil {
		t.Fatal("expected load error")
	}
	if a.Status().Playing {
		t.Error("expected playback to stay stopped after load failure")
	}
}

func TestFinishedPublishesEndedWithSourceTag(t *testing.T) {
	bus := events.NewBus()
	ended := bus.Subscribe(events.EventPlaybackEnded)

	opener := &fakeOpener{}
	a := NewLocalAdapter(opener, bus, zerolog.Nop())
	defer a.Close()

	track := player.Track{ID: "t1", URL: "/media/one.mp3"}
	if err := a.PlayTrack(context.Background(), track); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}

	opener.last(t).finish()

	select {
	case payload := <-ended:
		if payload["source"] != string(player.SourceLocal) {
			t.Errorf("expected source tag local, got %v", payload["source"])
		}
		if payload["track_id"] != "t1" {
			t.Errorf("expected track_id t1, got %v", payload["track_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ended event")
	}
}

func TestAdoptClosesPreviousHandleAndTakesItsVolume(t *testing.T) {
	bus := events.NewBus()
	ended := bus.Subscribe(events.EventPlaybackEnded)

	opener := &fakeOpener{}
	a := NewLocalAdapter(opener, bus, zerolog.Nop())
	defer a.Close()

	first := player.Track{ID: "t1", URL: "/media/one.mp3"}
	if err := a.PlayTrack(context.Background(), first); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	old := opener.last(t)

	// A warmed handle arrives already loaded with its target volume set.
	warm := &fakeHandle{volume: 70, durationMs: 120000, loadedURL: "/media/two.mp3"}
	second := player.Track{ID: "t2", URL: "/media/two.mp3"}
	if err := a.Adopt(warm, second); err != nil {
		t.Fatalf("Adopt: %v", err)
	}

	if !old.closed {
		t.Error("expected previous handle to be closed")
	}
	if !warm.Playing() {
		t.Error("expected adopted handle to be playing")
	}
	if got := a.Status().Volume; got != 70 {
		t.Errorf("expected adapter volume to follow adopted handle, got %d", got)
	}

	// The finish callback must now report the adopted track.
	warm.finish()
	select {
	case payload := <-ended:
		if payload["track_id"] != "t2" {
			t.Errorf("expected ended event for t2, got %v", payload["track_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ended event")
	}
}

func TestStopResetsPositionAndToleratesNoHandle(t *testing.T) {
	opener := &fakeOpener{}
	a := NewLocalAdapter(opener, nil, zerolog.Nop())
	defer a.Close()

	// Stop before anything loaded is a no-op.
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop without handle: %v", err)
	}

	track := player.Track{ID: "t1", URL: "/media/one.mp3"}
	if err := a.PlayTrack(context.Background(), track); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	h := opener.last(t)
	h.setPosition(1500)

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.Playing() {
		t.Error("expected playback stopped")
	}
	if h.PositionMs() != 0 {
		t.Errorf("expected position reset to 0, got %d", h.PositionMs())
	}
}

func TestTransportBeforeLoadReturnsTypedError(t *testing.T) {
	a := NewLocalAdapter(&fakeOpener{}, nil, zerolog.Nop())
	defer a.Close()

	if err := a.Play(context.Background()); !errors.Is(err, audio.ErrNotLoaded) {
		t.Errorf("Play: expected ErrNotLoaded, got %v", err)
	}
	if err := a.Pause(context.Background()); !errors.Is(err, audio.ErrNotLoaded) {
		t.Errorf("Pause: expected ErrNotLoaded, got %v", err)
	}
	if err := a.SeekMs(context.Background(), 100); !errors.Is(err, audio.ErrNotLoaded) {
		t.Errorf("SeekMs: expected ErrNotLoaded, got %v", err)
	}
}
