package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/models"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/queue"
	"github.com/friendsincode/bifrost_player/internal/remote"
	"github.com/friendsincode/bifrost_player/internal/settings"
	"github.com/friendsincode/bifrost_player/internal/source"
)

type fakeAdapter struct {
	mu             sync.Mutex
	src            player.Source
	playing        bool
	positionMs     int64
	durationMs     int64
	volume         int
	lastTrack      player.Track
	playTrackErr   error
	playTrackCalls int
	playCalls      int
	pauseCalls     int
	stopCalls      int
	seekCalls      []int64
	volumeCalls    []int
}

func newFakeAdapter(src player.Source) *fakeAdapter {
	return &fakeAdapter{src: src, volume: 100}
}

func (f *fakeAdapter) Source() player.Source { return f.src }

func (f *fakeAdapter) PlayTrack(ctx context.Context, track player.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playTrackCalls++
	if f.playTrackErr != nil {
		return f.playTrackErr
	}
	f.lastTrack = track
	f.playing = true
	f.positionMs = 0
	f.durationMs = track.DurationMs
	return nil
}

func (f *fakeAdapter) Play(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCalls++
	f.playing = true
	return nil
}

func (f *fakeAdapter) Pause(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	f.playing = false
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.playing = false
	f.positionMs = 0
	return nil
}

func (f *fakeAdapter) SeekMs(ctx context.Context, positionMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekCalls = append(f.seekCalls, positionMs)
	f.positionMs = positionMs
	return nil
}

func (f *fakeAdapter) SetVolume(ctx context.Context, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = volume
	f.volumeCalls = append(f.volumeCalls, volume)
	return nil
}

func (f *fakeAdapter) Status() source.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return source.Status{
		Playing:    f.playing,
		PositionMs: f.positionMs,
		DurationMs: f.durationMs,
		Volume:     f.volume,
	}
}

func (f *fakeAdapter) Close() error { return nil }

func (f *fakeAdapter) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeAdapter) vol() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakeAdapter) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playTrackCalls
}

func (f *fakeAdapter) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeAdapter) resumes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playCalls
}

func (f *fakeAdapter) seeks() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.seekCalls))
	copy(out, f.seekCalls)
	return out
}

func (f *fakeAdapter) vols() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.volumeCalls))
	copy(out, f.volumeCalls)
	return out
}

func (f *fakeAdapter) setPosition(ms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionMs = ms
}

func (f *fakeAdapter) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playTrackCalls = 0
	f.playCalls = 0
	f.pauseCalls = 0
	f.stopCalls = 0
	f.seekCalls = nil
	f.volumeCalls = nil
}

// fakeRemote behaves like the device-control backend: starts fail until
// a device holds playback, and WakeUp installs one.
type fakeRemote struct {
	fakeAdapter
	deviceUp  bool
	wakeCalls int
}

func newFakeRemote(deviceUp bool) *fakeRemote {
	return &fakeRemote{
		fakeAdapter: fakeAdapter{src: player.SourceRemote, volume: 100},
		deviceUp:    deviceUp,
	}
}

func (f *fakeRemote) PlayTrack(ctx context.Context, track player.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playTrackCalls++
	if !f.deviceUp {
		return remote.ErrNoActiveDevice
	}
	f.lastTrack = track
	f.playing = true
	f.positionMs = 0
	f.durationMs = track.DurationMs
	return nil
}

func (f *fakeRemote) WakeUp(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeCalls++
	f.deviceUp = true
	return nil
}

func (f *fakeRemote) wakes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakeCalls
}

func (f *fakeRemote) setStatus(playing bool, positionMs, durationMs int64, volume int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = playing
	f.positionMs = positionMs
	f.durationMs = durationMs
	f.volume = volume
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func localTrack(id string, durationMs int64) player.Track {
	return player.Track{
		ID:         id,
		Title:      "Track " + id,
		Source:     player.SourceLocal,
		URL:        "/media/" + id + ".mp3",
		DurationMs: durationMs,
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.PlayerSettings{}, &models.ResumeState{}, &models.PlayHistory{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

func TestPlayTrackWithoutAdapter(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	e := New(q, []source.Adapter{newFakeAdapter(player.SourceLocal)}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	qt := player.NewQueueTrack(player.Track{ID: "v1", Source: player.SourceVideo})
	err := e.PlayTrack(context.Background(), qt)
	if !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("expected ErrNoAdapter, got %v", err)
	}
}

func TestManualStartFailureKeepsQueuePosition(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	local := newFakeAdapter(player.SourceLocal)
	boom := errors.New("decoder refused the stream")
	local.playTrackErr = boom

	e := New(q, []source.Adapter{local}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	q.AddAll([]player.Track{localTrack("a", 60000), localTrack("b", 60000)})

	err := e.PlayQueueIndex(context.Background(), 0)
	if !errors.Is(err, boom) {
		t.Fatalf("expected start error to surface, got %v", err)
	}

	// A failed user-initiated start must not trigger the delayed advance.
	time.Sleep(700 * time.Millisecond)

	if idx := q.CurrentIndex(); idx != 0 {
		t.Errorf("expected queue to stay at index 0, got %d", idx)
	}
	if got := local.starts(); got != 1 {
		t.Errorf("expected exactly 1 start attempt, got %d", got)
	}
	st := e.State()
	if st.IsPlaying || st.IsLoading {
		t.Errorf("expected idle state after failed start, playing=%v loading=%v", st.IsPlaying, st.IsLoading)
	}
}

func TestRemoteWakeUpRetry(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	rem := newFakeRemote(false)

	e := New(q, []source.Adapter{rem}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	q.AddAll([]player.Track{{ID: "r1", Title: "Remote One", Source: player.SourceRemote, ExternalID: "dev:track:1", DurationMs: 200000}})

	if err := e.PlayQueueIndex(context.Background(), 0); err != nil {
		t.Fatalf("expected wake-up retry to succeed, got %v", err)
	}

	if got := rem.wakes(); got != 1 {
		t.Errorf("expected 1 wake-up, got %d", got)
	}
	if got := rem.starts(); got != 2 {
		t.Errorf("expected 2 start attempts, got %d", got)
	}

	st := e.State()
	if st.ActiveSource != player.SourceRemote {
		t.Errorf("expected remote active, got %s", st.ActiveSource)
	}
	if !st.IsPlaying {
		t.Error("expected playing after wake-up retry")
	}
}

func TestStateMirrorsRemoteDeviceWhileActive(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	rem := newFakeRemote(true)

	e := New(q, []source.Adapter{rem}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	q.AddAll([]player.Track{{ID: "r1", Source: player.SourceRemote, ExternalID: "dev:track:1", DurationMs: 180000}})
	if err := e.PlayQueueIndex(context.Background(), 0); err != nil {
		t.Fatalf("start remote track: %v", err)
	}

	// The device position moved on its own; the snapshot must mirror the
	// polled device state, not the internally tracked one.
	rem.setStatus(true, 42000, 180000, 55)

	st := e.State()
	if !st.IsPlaying {
		t.Error("expected playing from device state")
	}
	if st.ProgressMs != 42000 {
		t.Errorf("expected progress 42000 from device, got %d", st.ProgressMs)
	}
	if st.DurationMs != 180000 {
		t.Errorf("expected duration 180000, got %d", st.DurationMs)
	}
	if st.Volume != 55 {
		t.Errorf("expected device volume 55, got %d", st.Volume)
	}
}

func TestNextPastEndStopsButKeepsTrackVisible(t *testing.T) {
	bus := events.NewBus()
	q := queue.NewManager(bus)
	local := newFakeAdapter(player.SourceLocal)

	e := New(q, []source.Adapter{local}, nil, nil, nil, nil, bus, zerolog.Nop())
	startEngine(t, e)

	q.AddAll([]player.Track{localTrack("a", 60000)})
	if err := e.PlayQueueIndex(context.Background(), 0); err != nil {
		t.Fatalf("start track: %v", err)
	}

	if err := e.Next(context.Background()); err != nil {
		t.Fatalf("expected nil at queue end, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return local.stops() >= 1 }, "adapter never stopped at queue end")

	st := e.State()
	if st.IsPlaying {
		t.Error("expected stopped at queue end")
	}
	if st.ProgressMs != 0 {
		t.Errorf("expected progress reset, got %d", st.ProgressMs)
	}
	if st.CurrentTrack == nil || st.CurrentTrack.ID != "a" {
		t.Error("expected the last track to stay visible as current")
	}
}

func TestPlayAfterRestartReloadsAndSeeks(t *testing.T) {
	db := setupTestDB(t)
	svc := settings.NewService(db, "", zerolog.Nop())

	// First lifetime: play, seek, pause, stop.
	bus1 := events.NewBus()
	q1 := queue.NewManager(bus1)
	local1 := newFakeAdapter(player.SourceLocal)
	e1 := New(q1, []source.Adapter{local1}, nil, svc, nil, nil, bus1, zerolog.Nop())
	if err := e1.Start(context.Background()); err != nil {
		t.Fatalf("start first engine: %v", err)
	}

	q1.AddAll([]player.Track{localTrack("x", 240000)})
	if err := e1.PlayQueueIndex(context.Background(), 0); err != nil {
		t.Fatalf("start track: %v", err)
	}
	if err := e1.SeekMs(context.Background(), 30000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if err := e1.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := e1.Stop(); err != nil {
		t.Fatalf("stop first engine: %v", err)
	}

	// Second lifetime: the restored snapshot seeds state without playing.
	bus2 := events.NewBus()
	q2 := queue.NewManager(bus2)
	local2 := newFakeAdapter(player.SourceLocal)
	e2 := New(q2, []source.Adapter{local2}, nil, svc, nil, nil, bus2, zerolog.Nop())
	startEngine(t, e2)

	st := e2.State()
	if st.CurrentTrack == nil || st.CurrentTrack.ID != "x" {
		t.Fatal("expected restored current track")
	}
	if st.IsPlaying {
		t.Error("expected restore to not start playback")
	}
	if st.ProgressMs != 30000 {
		t.Errorf("expected restored position 30000, got %d", st.ProgressMs)
	}
	if got := local2.starts(); got != 0 {
		t.Errorf("expected no start during restore, got %d", got)
	}

	// Play after restore reloads the track cold and seeks back.
	if err := e2.Play(context.Background()); err != nil {
		t.Fatalf("play after restore: %v", err)
	}
	if got := local2.starts(); got != 1 {
		t.Errorf("expected 1 cold start, got %d", got)
	}
	seeks := local2.seeks()
	if len(seeks) != 1 || seeks[0] != 30000 {
		t.Errorf("expected seek to 30000 after reload, got %v", seeks)
	}
	if !e2.State().IsPlaying {
		t.Error("expected playing after resume")
	}
}
