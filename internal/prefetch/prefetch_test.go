package prefetch

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
	mu        sync.Mutex
	loadedURL string
	loadErr   error
	volume    int
	closed    bool
}

func (f *fakeHandle) Load(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loadedURL = url
	return nil
}

func (f *fakeHandle) Play() error            { return nil }
func (f *fakeHandle) Pause()                 {}
func (f *fakeHandle) Stop()                  {}
func (f *fakeHandle) SeekMs(ms int64) error  { return nil }
func (f *fakeHandle) PositionMs() int64      { return 0 }
func (f *fakeHandle) DurationMs() int64      { return 0 }
func (f *fakeHandle) Playing() bool          { return false }
func (f *fakeHandle) OnFinished(fn func())   {}

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

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeHandle) url() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadedURL
}

type fakeOpener struct {
	mu          sync.Mutex
	handles     []*fakeHandle
	nextLoadErr error
}

func (o *fakeOpener) Open() audio.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &fakeHandle{volume: 100, loadErr: o.nextLoadErr}
	o.nextLoadErr = nil
	o.handles = append(o.handles, h)
	return h
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
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

type stubNext struct {
	mu sync.Mutex
	qt *player.QueueTrack
}

func (s *stubNext) PeekNext() *player.QueueTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.qt == nil {
		return nil
	}
	cp := *s.qt
	return &cp
}

func (s *stubNext) set(qt *player.QueueTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qt = qt
}

type stubPreparer struct {
	url string
	err error
}

func (s *stubPreparer) ResolveTrack(ctx context.Context, track *player.Track) error {
	if s.err != nil {
		return s.err
	}
	track.URL = s.url
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func localQueueTrack(queueID, trackID, url string) *player.QueueTrack {
	return &player.QueueTrack{
		QueueID: queueID,
		Track:   player.Track{ID: trackID, Source: player.SourceLocal, URL: url},
	}
}

func TestWarmStartsOnlyInsideThreshold(t *testing.T) {
	opener := &fakeOpener{}
	next := &stubNext{}
	next.set(localQueueTrack("q2", "t2", "/media/two.mp3"))

	p := New(opener, next, nil, nil, zerolog.Nop())
	defer p.Close()

	// Remaining 29s is outside the window.
	p.MaybeWarm(player.SourceLocal, 1000, 30000)
	time.Sleep(50 * time.Millisecond)
	if opener.count() != 0 {
		t.Fatal("expected no warm outside the threshold")
	}

	// Remaining 5s is inside.
	p.MaybeWarm(player.SourceLocal, 25000, 30000)
	waitFor(t, "slot warmed", func() bool { return p.WarmedFor("q2") })

	h := opener.last(t)
	if h.url() != "/media/two.mp3" {
		t.Errorf("expected next track loaded, got %q", h.url())
	}
	if h.Volume() != 0 {
		t.Errorf("expected warmed handle silent, got volume %d", h.Volume())
	}
}

func TestWarmRestrictedToHandleBackends(t *testing.T) {
	opener := &fakeOpener{}
	next := &stubNext{}
	next.set(localQueueTrack("q2", "t2", "/media/two.mp3"))

	p := New(opener, next, nil, nil, zerolog.Nop())
	defer p.Close()

	// Remote live track never warms, even with a local track upcoming.
	p.MaybeWarm(player.SourceRemote, 25000, 30000)
	time.Sleep(50 * time.Millisecond)
	if opener.count() != 0 {
		t.Fatal("expected no warm while remote is live")
	}

	// A video track upcoming never warms either.
	next.set(&player.QueueTrack{
		QueueID: "q3",
		Track:   player.Track{ID: "t3", Source: player.SourceVideo, ExternalID: "vid"},
	})
	p.MaybeWarm(player.SourceLocal, 25000, 30000)
	time.Sleep(50 * time.Millisecond)
	if opener.count() != 0 {
		t.Fatal("expected no warm for a video track")
	}
}

func TestSwapHandsOverAtTargetVolume(t *testing.T) {
	opener := &fakeOpener{}
	next := &stubNext{}
	next.set(localQueueTrack("q2", "t2", "/media/two.mp3"))

	p := New(opener, next, nil, nil, zerolog.Nop())
	defer p.Close()

	p.MaybeWarm(player.SourceLocal, 25000, 30000)
	waitFor(t, "slot warmed", func() bool { return p.WarmedFor("q2") })

	// A swap request for a different queue entry must never hand over
	// this handle.
	if _, _, ok := p.SwapToPrefetched("q9", 80); ok {
		t.Fatal("swap must refuse a mismatched queue-id")
	}

	handle, track, ok := p.SwapToPrefetched("q2", 80)
	if !ok {
		t.Fatal("expected warmed swap to succeed")
	}
	if track.ID != "t2" {
		t.Errorf("expected track t2, got %s", track.ID)
	}
	if handle.Volume() != 80 {
		t.Errorf("expected handed-over handle at target volume, got %d", handle.Volume())
	}
	if _, warmed := p.Warmed(); warmed {
		t.Error("expected a cold slot after swap")
	}
}

func TestRevalidateDiscardsStaleSlot(t *testing.T) {
	bus := events.NewBus()
	discarded := bus.Subscribe(events.EventPrefetchDiscarded)

	opener := &fakeOpener{}
	next := &stubNext{}
	next.set(localQueueTrack("q2", "t2", "/media/two.mp3"))

	p := New(opener, next, nil, bus, zerolog.Nop())
	defer p.Close()

	p.MaybeWarm(player.SourceLocal, 25000, 30000)
	waitFor(t, "slot warmed", func() bool { return p.WarmedFor("q2") })
	warmHandle := opener.last(t)

	// The queue was edited and a different track is next now.
	next.set(localQueueTrack("q7", "t7", "/media/seven.mp3"))
	p.Revalidate()

	if p.WarmedFor("q2") {
		t.Fatal("expected stale slot discarded")
	}
	if !warmHandle.isClosed() {
		t.Error("expected discarded handle closed")
	}

	select {
	case payload := <-discarded:
		if payload["queue_id"] != "q2" {
			t.Errorf("unexpected discard payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discard event")
	}
}

func TestRevalidateKeepsMatchingSlot(t *testing.T) {
	opener := &fakeOpener{}
	next := &stubNext{}
	next.set(localQueueTrack("q2", "t2", "/media/two.mp3"))

	p := New(opener, next, nil, nil, zerolog.Nop())
	defer p.Close()

	p.MaybeWarm(player.SourceLocal, 25000, 30000)
	waitFor(t, "slot warmed", func() bool { return p.WarmedFor("q2") })

	// A mutation that leaves the upcoming track unchanged keeps the slot.
	p.Revalidate()
	if !p.WarmedFor("q2") {
		t.Fatal("expected matching slot kept across revalidation")
	}
}

func TestLoadFailureSilentlyForfeitsAndAllowsRetry(t *testing.T) {
	opener := &fakeOpener{nextLoadErr: errors.New("read timeout")}
	next := &stubNext{}
	next.set(localQueueTrack("q2", "t2", "/media/two.mp3"))

	p := New(opener, next, nil, nil, zerolog.Nop())
	defer p.Close()

	p.MaybeWarm(player.SourceLocal, 25000, 30000)
	waitFor(t, "failed handle closed", func() bool {
		return opener.count() == 1 && opener.last(t).isClosed()
	})
	if p.WarmedFor("q2") {
		t.Fatal("expected no warmed slot after load failure")
	}

	// The next tick may try again.
	p.MaybeWarm(player.SourceLocal, 26000, 30000)
	waitFor(t, "retry warmed", func() bool { return p.WarmedFor("q2") })
}

func TestProxyTracksResolveBeforeWarm(t *testing.T) {
	opener := &fakeOpener{}
	next := &stubNext{}
	next.set(&player.QueueTrack{
		QueueID: "q2",
		Track:   player.Track{ID: "station-4", Source: player.SourceProxy, ExternalID: "station-4"},
	})

	p := New(opener, next, &stubPreparer{url: "https://streams.example.com/4.mp3"}, nil, zerolog.Nop())
	defer p.Close()

	p.MaybeWarm(player.SourceProxy, 25000, 30000)
	waitFor(t, "proxy slot warmed", func() bool { return p.WarmedFor("q2") })

	_, track, ok := p.SwapToPrefetched("q2", 60)
	if !ok {
		t.Fatal("expected swap to succeed")
	}
	if track.URL != "https://streams.example.com/4.mp3" {
		t.Errorf("expected resolved URL carried through, got %q", track.URL)
	}
}

func TestDisabledPrefetcherNeverWarms(t *testing.T) {
	opener := &fakeOpener{}
	next := &stubNext{}
	next.set(localQueueTrack("q2", "t2", "/media/two.mp3"))

	p := New(opener, next, nil, nil, zerolog.Nop())
	defer p.Close()
	p.SetEnabled(false)

	p.MaybeWarm(player.SourceLocal, 25000, 30000)
	time.Sleep(50 * time.Millisecond)
	if opener.count() != 0 {
		t.Fatal("expected no warm while disabled")
	}
}
