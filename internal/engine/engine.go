package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/models"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/prefetch"
	"github.com/friendsincode/bifrost_player/internal/queue"
	"github.com/friendsincode/bifrost_player/internal/remote"
	"github.com/friendsincode/bifrost_player/internal/settings"
	"github.com/friendsincode/bifrost_player/internal/source"
	"github.com/friendsincode/bifrost_player/internal/syncbus"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

const (
	// crossfadeWindow is how long a live adapter ramps to silence before
	// it is stopped during a source switch.
	crossfadeWindow = 500 * time.Millisecond
	crossfadeSteps  = 10

	// duckSteps is the resolution of both ducking-envelope ramps.
	duckSteps = 20

	// errorAdvanceDelay separates an adapter error from the automatic
	// advance, leaving the user a moment to issue a command that
	// supersedes it.
	errorAdvanceDelay = 500 * time.Millisecond

	// resumeSaveIntervalMs spaces out resume-state writes while a track
	// plays.
	resumeSaveIntervalMs = 5000

	// commandTimeout bounds adapter calls made from background paths.
	commandTimeout = 5 * time.Second
)

var (
	// ErrNoTrack indicates a transport command arrived with nothing to play.
	ErrNoTrack = errors.New("engine: no track to play")

	// ErrNoAdapter indicates a track names a source with no registered backend.
	ErrNoAdapter = errors.New("engine: no adapter for source")
)

// handleAdopter is implemented by adapters that can take over an
// already-playing warmed handle during a gapless swap.
type handleAdopter interface {
	Adopt(h audio.Handle, track player.Track) error
}

// deviceWaker is implemented by the remote adapter. WakeUp transfers
// control to a usable device after a no-active-device failure.
type deviceWaker interface {
	WakeUp(ctx context.Context) error
}

// Engine orchestrates the playback backends behind one transport surface.
// Exactly one adapter owns audible output at a time; every source switch
// quiets the others first. The prefetcher's silent secondary handle is
// the single sanctioned exception.
type Engine struct {
	queue    *queue.Manager
	prefetch *prefetch.Prefetcher
	settings *settings.Service
	syncBus  *syncbus.Broadcaster
	db       *gorm.DB
	bus      *events.Bus
	logger   zerolog.Logger

	adapters map[player.Source]source.Adapter

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	active    player.Source
	current   *player.QueueTrack
	loadedQID string // queue-id loaded on the active adapter
	playing   bool
	loading   bool
	muted     bool
	preMute   int
	volume    int // global volume; the value ramps and new starts target

	progressMs int64
	durationMs int64
	startedAt  time.Time
	savedAtMs  int64 // progress at the last resume-state write

	// playGen is bumped by every explicit transport command. A delayed
	// error advance captured under an older generation is superseded.
	playGen int

	// applyingSync suppresses outbound broadcasts while a mirrored
	// transition from another session is applied.
	applyingSync bool

	pendingDuck *player.DuckSnapshot
}

// New wires the engine over the given adapters. The settings service,
// sync broadcaster, and database may be nil; the corresponding side
// effects are skipped.
func New(q *queue.Manager, adapters []source.Adapter, pf *prefetch.Prefetcher, st *settings.Service, sb *syncbus.Broadcaster, database *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Engine {
	set := make(map[player.Source]source.Adapter, len(adapters))
	for _, a := range adapters {
		if a != nil {
			set[a.Source()] = a
		}
	}
	return &Engine{
		queue:    q,
		prefetch: pf,
		settings: st,
		syncBus:  sb,
		db:       database,
		bus:      bus,
		adapters: set,
		active:   player.SourceNone,
		volume:   80,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// Start applies persisted settings, restores the resume snapshot, and
// launches the event loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true
	e.mu.Unlock()

	e.ApplySettings()
	e.restoreResume()

	if e.syncBus != nil {
		e.syncBus.OnRemoteStateChange(func(st player.SyncState) {
			// Delivery must not block; application touches adapters.
			go e.applyRemoteState(st)
		})
	}

	if e.bus != nil {
		go e.eventLoop()
	}

	e.logger.Info().Msg("engine started")
	return nil
}

// Stop halts the event loop and persists the resume snapshot.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.saveResume()
	e.logger.Info().Msg("engine stopped")
	return nil
}

// ApplySettings pushes the persisted player settings into the prefetcher
// and reseeds the global volume. Called at startup and after a settings
// update.
func (e *Engine) ApplySettings() {
	if e.settings == nil {
		return
	}
	s := e.settings.Get()
	if e.prefetch != nil {
		e.prefetch.SetEnabled(s.GaplessEnabled)
		e.prefetch.SetThresholdMs(s.GaplessThresholdMs)
	}
	e.mu.Lock()
	if e.current == nil {
		e.volume = player.ClampVolume(s.DefaultVolume)
	}
	e.mu.Unlock()
}

// PlayTrack starts the given track on its backend, quieting every other
// adapter first. The error return covers only this user-initiated start;
// failures here never advance the queue.
func (e *Engine) PlayTrack(ctx context.Context, qt player.QueueTrack) error {
	return e.playTrack(ctx, qt)
}

// PlayQueueIndex jumps the queue pointer to index and starts that entry.
func (e *Engine) PlayQueueIndex(ctx context.Context, index int) error {
	qt := e.queue.PlayAt(index)
	if qt == nil {
		return ErrNoTrack
	}
	err := e.playTrack(ctx, *qt)
	if e.prefetch != nil {
		e.prefetch.Revalidate()
	}
	return err
}

// Next advances the queue and starts the entry it lands on. At the end
// of the queue with repeat off it stops playback and returns nil.
func (e *Engine) Next(ctx context.Context) error {
	qt := e.queue.Next()
	if qt == nil {
		e.stopAtQueueEnd()
		return nil
	}
	err := e.playTrack(ctx, *qt)
	if e.prefetch != nil {
		e.prefetch.Revalidate()
	}
	return err
}

// Previous moves the queue pointer backward and starts the entry it
// lands on.
func (e *Engine) Previous(ctx context.Context) error {
	qt := e.queue.Previous()
	if qt == nil {
		return ErrNoTrack
	}
	err := e.playTrack(ctx, *qt)
	if e.prefetch != nil {
		e.prefetch.Revalidate()
	}
	return err
}

// Play resumes the current track. After a restart the track is no longer
// loaded on any adapter, so Play reloads it cold and seeks back to the
// saved position. Failures surface to the caller and never advance the
// queue.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	e.playGen++
	cur := e.current
	loaded := cur != nil && e.loadedQID == cur.QueueID
	resumeAt := e.progressMs
	src := e.active
	e.mu.Unlock()

	if cur == nil {
		return ErrNoTrack
	}

	if !loaded {
		if err := e.playTrack(ctx, *cur); err != nil {
			return err
		}
		if resumeAt > 0 {
			if err := e.seekMs(ctx, resumeAt); err != nil {
				e.logger.Warn().Err(err).Int64("position_ms", resumeAt).Msg("seek to resume position")
			}
		}
		return nil
	}

	a, ok := e.adapters[src]
	if !ok {
		return ErrNoAdapter
	}
	if err := a.Play(ctx); err != nil {
		return fmt.Errorf("resume %s playback: %w", src, err)
	}

	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	e.publishState()
	e.broadcast(player.SyncPlay)
	return nil
}

// Pause pauses the active adapter.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	e.playGen++
	src := e.active
	e.mu.Unlock()

	a, ok := e.adapters[src]
	if !ok {
		return ErrNoAdapter
	}
	if err := a.Pause(ctx); err != nil {
		return fmt.Errorf("pause %s playback: %w", src, err)
	}

	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.publishState()
	e.broadcast(player.SyncPause)
	e.saveResume()
	return nil
}

// SeekMs repositions the active adapter.
func (e *Engine) SeekMs(ctx context.Context, positionMs int64) error {
	e.mu.Lock()
	e.playGen++
	e.mu.Unlock()

	if err := e.seekMs(ctx, positionMs); err != nil {
		return err
	}
	e.broadcast(player.SyncSeek)
	return nil
}

func (e *Engine) seekMs(ctx context.Context, positionMs int64) error {
	e.mu.Lock()
	src := e.active
	e.mu.Unlock()

	a, ok := e.adapters[src]
	if !ok {
		return ErrNoAdapter
	}
	if err := a.SeekMs(ctx, positionMs); err != nil {
		return fmt.Errorf("seek %s: %w", src, err)
	}

	e.mu.Lock()
	e.progressMs = positionMs
	e.mu.Unlock()
	e.publishState()
	return nil
}

// playTrack runs the source-switch protocol: quiet every other adapter
// without waiting, then dispatch by track source. Every call supersedes
// any pending delayed advance.
func (e *Engine) playTrack(ctx context.Context, qt player.QueueTrack) error {
	ctx, span := telemetry.StartSpan(ctx, "engine", "engine.play_track")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"track_id": qt.ID,
		"source":   string(qt.Source),
	})

	a, ok := e.adapters[qt.Source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAdapter, qt.Source)
	}

	e.mu.Lock()
	e.playGen++
	e.mu.Unlock()

	e.finishCurrent(false)

	// Stopping the previous adapters is deliberately not awaited: the
	// incoming start must happen promptly, and the crossfade masks the
	// brief overlap.
	go e.quietAllExcept(qt.Source)

	e.mu.Lock()
	muted := e.muted
	cur := qt
	e.current = &cur
	e.active = qt.Source
	e.loading = true
	e.loadedQID = ""
	e.playing = false
	e.progressMs = 0
	e.durationMs = qt.DurationMs
	e.savedAtMs = 0
	e.mu.Unlock()
	e.publishState()

	err := a.PlayTrack(ctx, qt.Track)
	if errors.Is(err, remote.ErrNoActiveDevice) {
		// One wake-up attempt: transfer control to a known
		// web-capable device, then retry the start.
		if waker, ok := a.(deviceWaker); ok {
			if werr := waker.WakeUp(ctx); werr == nil {
				err = a.PlayTrack(ctx, qt.Track)
			} else {
				err = werr
			}
		}
	}

	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.PlaybackErrorsTotal.WithLabelValues(string(qt.Source)).Inc()
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
		e.publishState()
		return fmt.Errorf("start %s track: %w", qt.Source, err)
	}

	e.mu.Lock()
	e.loading = false
	e.loadedQID = qt.QueueID
	e.playing = qt.Source != player.SourceVideo // video starts once the embed picks up the cue
	e.startedAt = time.Now()
	e.mu.Unlock()

	if muted {
		if merr := a.SetVolume(ctx, 0); merr != nil {
			e.logger.Debug().Err(merr).Msg("carry mute to new track")
		}
	}

	telemetry.PlaybackStartsTotal.WithLabelValues(string(qt.Source)).Inc()
	e.logger.Info().
		Str("track_id", qt.ID).
		Str("queue_id", qt.QueueID).
		Str("source", string(qt.Source)).
		Msg("track started")

	if e.bus != nil {
		e.bus.Publish(events.EventTrackChanged, events.Payload{
			"track_id": qt.ID,
			"queue_id": qt.QueueID,
			"source":   string(qt.Source),
			"title":    qt.Title,
		})
	}
	e.publishState()
	e.broadcast(player.SyncTrackChange)
	e.saveResume()
	return nil
}

// stopAtQueueEnd quiets everything when a forward advance runs off the
// end of the queue. The last track stays visible as current.
func (e *Engine) stopAtQueueEnd() {
	e.mu.Lock()
	e.playGen++
	e.mu.Unlock()

	e.finishCurrent(false)
	e.quietAllExcept(player.SourceNone)
	e.mu.Lock()
	e.playing = false
	e.progressMs = 0
	e.mu.Unlock()
	e.publishState()
	e.saveResume()
}

// SetVolume applies a volume to the active adapter only.
func (e *Engine) SetVolume(ctx context.Context, volume int) error {
	volume = player.ClampVolume(volume)

	e.mu.Lock()
	src := e.active
	e.muted = false
	e.mu.Unlock()

	a, ok := e.adapters[src]
	if !ok {
		return ErrNoAdapter
	}
	if err := a.SetVolume(ctx, volume); err != nil {
		return fmt.Errorf("set %s volume: %w", src, err)
	}
	e.publishVolume(volume)
	return nil
}

// SetGlobalVolume applies one volume to every adapter, remote failures
// swallowed. Used ahead of source switches so the incoming adapter
// starts at the expected level.
func (e *Engine) SetGlobalVolume(ctx context.Context, volume int) {
	volume = player.ClampVolume(volume)
	e.setAllVolumes(ctx, volume)

	e.mu.Lock()
	e.volume = volume
	e.muted = false
	e.mu.Unlock()
	e.publishVolume(volume)
}

// ToggleMute silences the active adapter, remembering the pre-mute
// volume, or restores it. Returns the new muted state.
func (e *Engine) ToggleMute(ctx context.Context) (bool, error) {
	e.mu.Lock()
	src := e.active
	muted := e.muted
	preMute := e.preMute
	globalVol := e.volume
	e.mu.Unlock()

	a, ok := e.adapters[src]
	if !ok {
		return muted, ErrNoAdapter
	}

	if muted {
		if err := a.SetVolume(ctx, preMute); err != nil {
			return true, fmt.Errorf("unmute %s: %w", src, err)
		}
		e.mu.Lock()
		e.muted = false
		e.mu.Unlock()
		e.publishVolume(preMute)
		return false, nil
	}

	before := a.Status().Volume
	if before == 0 {
		before = globalVol
	}
	if err := a.SetVolume(ctx, 0); err != nil {
		return false, fmt.Errorf("mute %s: %w", src, err)
	}
	e.mu.Lock()
	e.muted = true
	e.preMute = before
	e.mu.Unlock()
	e.publishVolume(0)
	return true, nil
}

// State reconciles one unified snapshot. While the remote backend is
// active its own polled device state wins; otherwise the internally
// maintained state applies.
func (e *Engine) State() player.UnifiedState {
	e.mu.Lock()
	st := player.UnifiedState{
		ActiveSource: e.active,
		IsPlaying:    e.playing,
		IsLoading:    e.loading,
		IsMuted:      e.muted,
		ProgressMs:   e.progressMs,
		DurationMs:   e.durationMs,
		Volume:       e.volume,
	}
	if e.current != nil {
		cur := *e.current
		st.CurrentTrack = &cur
	}
	e.mu.Unlock()

	if a, ok := e.adapters[st.ActiveSource]; ok {
		if st.ActiveSource == player.SourceRemote {
			rs := a.Status()
			st.IsPlaying = rs.Playing
			st.ProgressMs = rs.PositionMs
			if rs.DurationMs > 0 {
				st.DurationMs = rs.DurationMs
			}
			st.Volume = rs.Volume
		} else {
			st.Volume = a.Status().Volume
		}
	}

	if e.queue != nil {
		st.Shuffle = e.queue.Shuffle()
		st.Repeat = e.queue.Repeat()
	}
	return st
}

// syncState builds the cross-session payload from the unified snapshot.
func (e *Engine) syncState(action player.SyncAction) player.SyncState {
	st := e.State()
	return player.SyncState{
		IsPlaying:    st.IsPlaying,
		ProgressMs:   st.ProgressMs,
		DurationMs:   st.DurationMs,
		CurrentTrack: st.CurrentTrack,
		ActiveSource: st.ActiveSource,
		Action:       action,
	}
}

func (e *Engine) broadcast(action player.SyncAction) {
	if e.syncBus == nil {
		return
	}
	e.mu.Lock()
	applying := e.applyingSync
	e.mu.Unlock()
	if applying {
		return
	}
	e.syncBus.BroadcastPlaybackState(action, e.syncState(action))
}

func (e *Engine) publishState() {
	if e.bus == nil {
		return
	}
	st := e.State()
	e.bus.Publish(events.EventStateUpdated, events.Payload{
		"active_source": string(st.ActiveSource),
		"is_playing":    st.IsPlaying,
		"is_loading":    st.IsLoading,
		"progress_ms":   st.ProgressMs,
		"duration_ms":   st.DurationMs,
	})
}

func (e *Engine) publishVolume(volume int) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.EventVolumeChanged, events.Payload{
		"volume": volume,
		"muted":  e.State().IsMuted,
	})
}

// finishCurrent writes the play-history row for the track being left
// behind, if one is loaded, and marks it unloaded so a second call is a
// no-op. completed marks a natural end-of-track.
func (e *Engine) finishCurrent(completed bool) {
	e.mu.Lock()
	cur := e.current
	loaded := cur != nil && e.loadedQID == cur.QueueID
	e.loadedQID = ""
	startedAt := e.startedAt
	listened := e.progressMs
	e.mu.Unlock()

	if !loaded {
		return
	}
	e.recordHistory(*cur, startedAt, listened, completed)
}

// recordHistory persists one play-history row. Failures only log.
func (e *Engine) recordHistory(qt player.QueueTrack, startedAt time.Time, listenedMs int64, completed bool) {
	if e.db == nil {
		return
	}
	row := models.PlayHistory{
		ID:         uuid.NewString(),
		TrackID:    qt.ID,
		QueueID:    qt.QueueID,
		Title:      qt.Title,
		Artist:     qt.Artist,
		Source:     string(qt.Source),
		StartedAt:  startedAt,
		EndedAt:    time.Now(),
		DurationMs: listenedMs,
		Completed:  completed,
	}
	if err := e.db.Create(&row).Error; err != nil {
		e.logger.Warn().Err(err).Msg("record play history")
	}
}

// restoreResume seeds the last played track and position without
// starting playback. The next Play command reloads and seeks.
func (e *Engine) restoreResume() {
	if e.settings == nil {
		return
	}
	rs, err := e.settings.Resume()
	if err != nil {
		e.logger.Warn().Err(err).Msg("load resume state")
		return
	}
	if !rs.HasTrack() {
		return
	}

	qt := player.QueueTrack{
		QueueID: uuid.NewString(),
		Track: player.Track{
			ID:         rs.TrackID,
			Title:      rs.Title,
			Artist:     rs.Artist,
			ArtworkURL: rs.ArtworkURL,
			DurationMs: rs.DurationMs,
			Source:     player.Source(rs.Source),
			ExternalID: rs.ExternalID,
			URL:        rs.URL,
		},
	}

	e.mu.Lock()
	e.current = &qt
	e.active = qt.Source
	e.progressMs = rs.PositionMs
	e.durationMs = rs.DurationMs
	if rs.Volume > 0 {
		e.volume = player.ClampVolume(rs.Volume)
	}
	e.mu.Unlock()

	e.logger.Info().
		Str("track_id", rs.TrackID).
		Int64("position_ms", rs.PositionMs).
		Msg("resume state restored")
}

// saveResume snapshots the current track and position for the next
// process start.
func (e *Engine) saveResume() {
	if e.settings == nil {
		return
	}

	e.mu.Lock()
	cur := e.current
	if cur == nil {
		e.mu.Unlock()
		return
	}
	state := models.ResumeState{
		TrackID:    cur.ID,
		Title:      cur.Title,
		Artist:     cur.Artist,
		ArtworkURL: cur.ArtworkURL,
		Source:     string(cur.Source),
		ExternalID: cur.ExternalID,
		URL:        cur.URL,
		PositionMs: e.progressMs,
		DurationMs: e.durationMs,
		Volume:     e.volume,
		WasPlaying: e.playing,
	}
	e.savedAtMs = e.progressMs
	e.mu.Unlock()

	if err := e.settings.SaveResume(state); err != nil {
		e.logger.Warn().Err(err).Msg("save resume state")
	}
}

// PendingDuck reports whether a duck snapshot is waiting to be consumed.
func (e *Engine) PendingDuck() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingDuck != nil
}
