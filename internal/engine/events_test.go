package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/prefetch"
	"github.com/friendsincode/bifrost_player/internal/queue"
	"github.com/friendsincode/bifrost_player/internal/source"
)

type fakeHandle struct {
	mu         sync.Mutex
	loadedURL  string
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
	f.loadedURL = url
	f.positionMs = 0
	return nil
}

func (f *fakeHandle) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	mu      sync.Mutex
	handles []*fakeHandle
}

func (o *fakeOpener) Open() audio.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &fakeHandle{volume: 100, durationMs: 180000}
	o.handles = append(o.handles, h)
	return h
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

func (o *fakeOpener) at(t *testing.T, i int) *fakeHandle {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.handles) {
		t.Fatalf("no handle at %d, only %d opened", i, len(o.handles))
	}
	return o.handles[i]
}

func TestAdapterErrorAdvancesAfterGrace(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	local := newFakeAdapter(player.SourceLocal)

	e := New(q, []source.Adapter{local}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	q.AddAll([]player.Track{localTrack("a", 60000), localTrack("b", 60000)})
	if err := e.PlayQueueIndex(context.Background(), 0); err != nil {
		t.Fatalf("start track: %v", err)
	}

	bus.Publish(events.EventPlaybackError, events.Payload{
		"source": string(player.SourceLocal),
		"error":  "stream reset by peer",
	})

	// The advance waits out a short grace window first.
	time.Sleep(200 * time.Millisecond)
	if idx := q.CurrentIndex(); idx != 0 {
		t.Errorf("expected no advance inside the grace window, got index %d", idx)
	}

	waitFor(t, 2*time.Second, func() bool {
		st := e.State()
		return st.CurrentTrack != nil && st.CurrentTrack.ID == "b" && st.IsPlaying
	}, "queue never advanced after playback error")

	if idx := q.CurrentIndex(); idx != 1 {
		t.Errorf("expected index 1 after error advance, got %d", idx)
	}
	if got := local.starts(); got != 2 {
		t.Errorf("expected 2 starts, got %d", got)
	}
}

func TestTransportCommandCancelsErrorAdvance(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	local := newFakeAdapter(player.SourceLocal)

	e := New(q, []source.Adapter{local}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	q.AddAll([]player.Track{localTrack("a", 60000), localTrack("b", 60000)})
	if err := e.PlayQueueIndex(context.Background(), 0); err != nil {
		t.Fatalf("start track: %v", err)
	}

	bus.Publish(events.EventPlaybackError, events.Payload{
		"source": string(player.SourceLocal),
		"error":  "stream reset by peer",
	})
	waitFor(t, time.Second, func() bool { return !e.State().IsPlaying }, "error never reached the engine")

	// An explicit command inside the grace window wins over the pending
	// advance.
	if err := e.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	time.Sleep(700 * time.Millisecond)

	if idx := q.CurrentIndex(); idx != 0 {
		t.Errorf("expected queue held at index 0, got %d", idx)
	}
	if got := local.starts(); got != 1 {
		t.Errorf("expected no restart, got %d starts", got)
	}
}

func TestGaplessSwapOnNaturalEnd(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	opener := &fakeOpener{}
	local := source.NewLocalAdapter(opener, bus, zerolog.Nop())
	defer local.Close()

	pf := prefetch.New(opener, q, nil, bus, zerolog.Nop())
	defer pf.Close()

	e := New(q, []source.Adapter{local}, pf, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	added := q.AddAll([]player.Track{localTrack("a", 3000), localTrack("b", 4000)})
	if err := e.PlayQueueIndex(context.Background(), 0); err != nil {
		t.Fatalf("start track: %v", err)
	}
	first := opener.at(t, 0)

	// Cross into the warm window.
	first.SeekMs(2999)
	bus.Publish(events.EventPlaybackProgress, events.Payload{
		"source":      string(player.SourceLocal),
		"track_id":    "a",
		"position_ms": int64(2999),
		"duration_ms": int64(3000),
		"playing":     true,
	})
	waitFor(t, 2*time.Second, func() bool {
		return pf.WarmedFor(added[1].QueueID)
	}, "upcoming track never warmed")

	first.finish()

	waitFor(t, 2*time.Second, func() bool {
		st := e.State()
		return st.CurrentTrack != nil && st.CurrentTrack.QueueID == added[1].QueueID && st.IsPlaying && !st.IsLoading
	}, "gapless transition never completed")

	if idx := q.CurrentIndex(); idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}

	// The transition must reuse the warmed handle, not open a third one.
	if got := opener.count(); got != 2 {
		t.Fatalf("expected 2 handles (live plus warmed), got %d", got)
	}
	warmed := opener.at(t, 1)
	if !warmed.Playing() {
		t.Error("expected warmed handle playing")
	}
	if got := warmed.url(); got != "/media/b.mp3" {
		t.Errorf("expected warmed handle loaded with b, got %q", got)
	}
	if got := warmed.Volume(); got != 100 {
		t.Errorf("expected warmed handle raised to 100, got %d", got)
	}
	if !first.isClosed() {
		t.Error("expected finished handle closed after adoption")
	}
	if got := e.State().ProgressMs; got != 0 {
		t.Errorf("expected progress reset after swap, got %d", got)
	}
}

func TestApplyRemotePlayStartsSilentThenRestores(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	local := newFakeAdapter(player.SourceLocal)

	e := New(q, []source.Adapter{local}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	if err := e.PlayTrack(context.Background(), player.NewQueueTrack(localTrack("a", 60000))); err != nil {
		t.Fatalf("start track: %v", err)
	}
	if err := e.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	local.resetCalls()

	e.applyRemoteState(player.SyncState{Action: player.SyncPlay, IsPlaying: true})

	if got := local.resumes(); got != 1 {
		t.Fatalf("expected 1 play call, got %d", got)
	}
	vols := local.vols()
	if len(vols) != 2 || vols[0] != 0 || vols[1] != 100 {
		t.Errorf("expected silent start then restore [0 100], got %v", vols)
	}
	if !e.State().IsPlaying {
		t.Error("expected playing after mirrored start")
	}
}

func TestApplyRemoteSeekRepositionsWithoutReload(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	local := newFakeAdapter(player.SourceLocal)

	e := New(q, []source.Adapter{local}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	if err := e.PlayTrack(context.Background(), player.NewQueueTrack(localTrack("a", 240000))); err != nil {
		t.Fatalf("start track: %v", err)
	}
	e.StopAllAudio()
	local.resetCalls()

	e.applyRemoteState(player.SyncState{Action: player.SyncSeek, ProgressMs: 45000})

	if got := local.seeks(); len(got) != 0 {
		t.Errorf("expected no adapter seek while unloaded, got %v", got)
	}
	if got := e.State().ProgressMs; got != 45000 {
		t.Errorf("expected position 45000, got %d", got)
	}

	// The next Play picks the mirrored position up.
	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := local.starts(); got != 1 {
		t.Errorf("expected cold reload, got %d starts", got)
	}
	seeks := local.seeks()
	if len(seeks) != 1 || seeks[0] != 45000 {
		t.Errorf("expected seek to 45000 after reload, got %v", seeks)
	}
}

func TestApplyRemoteTrackChangeMirrorsOnce(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	local := newFakeAdapter(player.SourceLocal)

	e := New(q, []source.Adapter{local}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	peer := player.QueueTrack{QueueID: "peer-queue-id", Track: localTrack("t9", 90000)}
	st := player.SyncState{Action: player.SyncTrackChange, IsPlaying: true, CurrentTrack: &peer}

	e.applyRemoteState(st)

	if got := local.starts(); got != 1 {
		t.Fatalf("expected 1 start, got %d", got)
	}
	cur := e.State().CurrentTrack
	if cur == nil || cur.ID != "t9" {
		t.Fatal("expected mirrored track current")
	}
	if cur.QueueID == "peer-queue-id" {
		t.Error("expected a fresh per-process queue id")
	}
	if !e.State().IsPlaying {
		t.Error("expected playing after mirror")
	}

	// The same broadcast applied twice must not restart the track.
	e.applyRemoteState(st)
	if got := local.starts(); got != 1 {
		t.Errorf("expected no restart on duplicate broadcast, got %d starts", got)
	}

	// A paused mirror loads the track and leaves it paused.
	peer2 := player.QueueTrack{QueueID: "peer-queue-id-2", Track: localTrack("t10", 90000)}
	e.applyRemoteState(player.SyncState{Action: player.SyncTrackChange, IsPlaying: false, CurrentTrack: &peer2})

	if got := local.starts(); got != 2 {
		t.Errorf("expected second start for new track, got %d", got)
	}
	st2 := e.State()
	if st2.CurrentTrack == nil || st2.CurrentTrack.ID != "t10" {
		t.Error("expected second mirrored track current")
	}
	if st2.IsPlaying {
		t.Error("expected paused after mirrored paused track change")
	}
}
