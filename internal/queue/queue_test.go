package queue

import (
	"fmt"
	"testing"

	"github.com/friendsincode/bifrost_player/internal/player"
)

func makeTracks(n int) []player.Track {
	tracks := make([]player.Track, 0, n)
	for i := 0; i < n; i++ {
		tracks = append(tracks, player.Track{
			ID:         fmt.Sprintf("track-%d", i),
			Title:      fmt.Sprintf("Track %d", i),
			Source:     player.SourceLocal,
			DurationMs: 3000,
		})
	}
	return tracks
}

func TestNewManagerStartsEmpty(t *testing.T) {
	m := NewManager(nil)
	if m.Len() != 0 {
		t.Errorf("expected empty queue, got length %d", m.Len())
	}
	if m.CurrentIndex() != -1 {
		t.Errorf("expected currentIndex -1, got %d", m.CurrentIndex())
	}
	if m.Current() != nil {
		t.Error("expected nil current on empty queue")
	}
}

func TestAddAssignsFreshQueueIDs(t *testing.T) {
	m := NewManager(nil)
	track := player.Track{ID: "same", Title: "Same Track", Source: player.SourceLocal}

	first := m.Add(track)
	second := m.Add(track)

	if first.QueueID == second.QueueID {
		t.Fatal("expected distinct queue ids for duplicate track")
	}
	if m.Len() != 2 {
		t.Errorf("expected length 2, got %d", m.Len())
	}
}

func TestAddAllPreservesOrder(t *testing.T) {
	m := NewManager(nil)
	added := m.AddAll(makeTracks(3))
	if len(added) != 3 {
		t.Fatalf("expected 3 added, got %d", len(added))
	}
	items := m.Items()
	for i, qt := range items {
		if qt.ID != fmt.Sprintf("track-%d", i) {
			t.Errorf("position %d holds %s", i, qt.ID)
		}
	}
}

func TestPlayNextInsertsAfterCurrent(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))
	m.PlayAt(1)

	inserted := m.PlayNext(player.Track{ID: "wedge", Source: player.SourceLocal})

	items := m.Items()
	if items[2].QueueID != inserted.QueueID {
		t.Fatalf("expected inserted entry at index 2, got %s", items[2].ID)
	}
	if m.CurrentIndex() != 1 {
		t.Errorf("currentIndex moved to %d", m.CurrentIndex())
	}
}

func TestPlayNextOnUnsetPointerInsertsAtFront(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(2))

	inserted := m.PlayNext(player.Track{ID: "front", Source: player.SourceLocal})

	if m.Items()[0].QueueID != inserted.QueueID {
		t.Fatal("expected inserted entry at front when pointer unset")
	}
}

func TestRemoveBeforeCurrentShiftsPointerDown(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(4))
	m.PlayAt(2)

	target := m.Items()[0]
	if !m.Remove(target.QueueID) {
		t.Fatal("remove failed")
	}
	if m.CurrentIndex() != 1 {
		t.Errorf("expected currentIndex 1, got %d", m.CurrentIndex())
	}
	if cur := m.Current(); cur == nil || cur.ID != "track-2" {
		t.Errorf("pointer no longer on the same logical track: %+v", cur)
	}
}

func TestRemoveCurrentLetsNextSlideIn(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(5))
	m.PlayAt(2)

	cur := m.Current()
	if !m.Remove(cur.QueueID) {
		t.Fatal("remove failed")
	}
	if m.CurrentIndex() != 2 {
		t.Errorf("expected currentIndex to stay 2, got %d", m.CurrentIndex())
	}
	if got := m.Current(); got == nil || got.ID != "track-3" {
		t.Errorf("expected former index 3 to slide in, got %+v", got)
	}
}

func TestRemoveLastEntryClampsPointer(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(2))
	m.PlayAt(1)

	cur := m.Current()
	m.Remove(cur.QueueID)
	if m.CurrentIndex() != 0 {
		t.Errorf("expected clamp to 0, got %d", m.CurrentIndex())
	}

	m.Remove(m.Current().QueueID)
	if m.CurrentIndex() != -1 {
		t.Errorf("expected -1 on empty queue, got %d", m.CurrentIndex())
	}
	if m.Current() != nil {
		t.Error("expected nil current after queue emptied")
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(2))
	if m.Remove("missing") {
		t.Error("expected false for unknown queue id")
	}
	if m.Len() != 2 {
		t.Errorf("queue mutated by failed remove: %d", m.Len())
	}
}

func TestClearResetsEverything(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))
	m.PlayAt(0)
	m.Next()

	m.Clear()
	if m.Len() != 0 || m.CurrentIndex() != -1 || len(m.History()) != 0 {
		t.Errorf("clear left state behind: len=%d idx=%d hist=%d", m.Len(), m.CurrentIndex(), len(m.History()))
	}
}

func TestClearUpcomingTruncatesAfterCurrent(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(5))
	m.PlayAt(2)

	m.ClearUpcoming()
	if m.Len() != 3 {
		t.Errorf("expected 3 entries kept, got %d", m.Len())
	}
	if m.CurrentIndex() != 2 {
		t.Errorf("pointer moved: %d", m.CurrentIndex())
	}
}

func TestMoveKeepsPointerOnSameTrack(t *testing.T) {
	cases := []struct {
		name     string
		from, to int
		wantIdx  int
	}{
		{"moving current follows it", 2, 0, 0},
		{"before to after shifts down", 0, 4, 1},
		{"after to before shifts up", 4, 1, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(nil)
			m.AddAll(makeTracks(5))
			m.PlayAt(2)
			want := m.Current().QueueID

			if !m.Move(tc.from, tc.to) {
				t.Fatal("move failed")
			}
			if m.CurrentIndex() != tc.wantIdx {
				t.Errorf("expected currentIndex %d, got %d", tc.wantIdx, m.CurrentIndex())
			}
			if got := m.Current(); got == nil || got.QueueID != want {
				t.Errorf("pointer left the logical track")
			}
		})
	}
}

func TestMoveOutOfRangeIsNoop(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(2))
	if m.Move(0, 5) || m.Move(-1, 0) || m.Move(1, 1) {
		t.Error("expected out-of-range or same-position move to be rejected")
	}
}

func TestNextAdvancesInOrder(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))

	first := m.Next()
	if first == nil || first.ID != "track-0" {
		t.Fatalf("expected track-0 from unset pointer, got %+v", first)
	}
	second := m.Next()
	if second == nil || second.ID != "track-1" {
		t.Fatalf("expected track-1, got %+v", second)
	}
}

func TestNextRepeatOneReturnsSameQueueID(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))
	m.PlayAt(1)
	m.SetRepeat(player.RepeatOne)

	id := m.Current().QueueID
	for i := 0; i < 5; i++ {
		got := m.Next()
		if got == nil || got.QueueID != id {
			t.Fatalf("iteration %d: expected queue id %s, got %+v", i, id, got)
		}
	}
}

func TestNextRepeatOffExhaustsAtEnd(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(2))
	m.PlayAt(1)

	if got := m.Next(); got != nil {
		t.Fatalf("expected nil past the end with repeat off, got %+v", got)
	}
	if m.CurrentIndex() != 1 {
		t.Errorf("pointer moved on exhausted advance: %d", m.CurrentIndex())
	}
}

func TestNextRepeatAllWraps(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(2))
	m.PlayAt(1)
	m.SetRepeat(player.RepeatAll)

	got := m.Next()
	if got == nil || got.ID != "track-0" {
		t.Fatalf("expected wrap to track-0, got %+v", got)
	}
}

func TestPreviousWrapsOnlyUnderRepeatAll(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))
	m.PlayAt(0)

	if got := m.Previous(); got != nil {
		t.Fatalf("expected nil before the start with repeat off, got %+v", got)
	}

	m.SetRepeat(player.RepeatAll)
	got := m.Previous()
	if got == nil || got.ID != "track-2" {
		t.Fatalf("expected wrap to last entry, got %+v", got)
	}
}

func TestPeekNextDoesNotMovePointer(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))
	m.PlayAt(0)

	peeked := m.PeekNext()
	if peeked == nil || peeked.ID != "track-1" {
		t.Fatalf("expected track-1, got %+v", peeked)
	}
	if m.CurrentIndex() != 0 {
		t.Errorf("peek moved pointer to %d", m.CurrentIndex())
	}
}

func TestShufflePeekAgreesWithNext(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(10))
	m.PlayAt(0)
	m.SetShuffle(true)
	m.SeedShuffle(42)

	for i := 0; i < 5; i++ {
		peeked := m.PeekNext()
		if peeked == nil {
			t.Fatal("peek returned nil mid-queue")
		}
		got := m.Next()
		if got == nil || got.QueueID != peeked.QueueID {
			t.Fatalf("advance %d: peek %s but next %+v", i, peeked.QueueID, got)
		}
	}
}

func TestShufflePickInvalidatedByMutation(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(10))
	m.PlayAt(0)
	m.SetShuffle(true)
	m.SeedShuffle(7)

	peeked := m.PeekNext()
	m.Remove(peeked.QueueID)

	got := m.Next()
	if got == nil {
		t.Fatal("expected an entry after removing the pick")
	}
	if got.QueueID == peeked.QueueID {
		t.Fatal("stale shuffle pick survived a queue mutation")
	}
}

func TestShuffleNeverReordersStoredArray(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(5))
	before := m.QueueIDs()

	m.SetShuffle(true)
	m.SeedShuffle(3)
	m.Next()
	m.Next()

	after := m.QueueIDs()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("stored order changed at %d", i)
		}
	}
}

func TestShuffleRepeatAllResetsPastEnd(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))
	m.PlayAt(2)
	m.SetShuffle(true)
	m.SetRepeat(player.RepeatAll)
	m.SeedShuffle(11)

	got := m.Next()
	if got == nil {
		t.Fatal("expected a pick past the end under repeat all")
	}
	if got.ID == "track-2" {
		t.Error("pick landed on the entry that just played")
	}
}

func TestShuffleRepeatOffExhaustsPastEnd(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(3))
	m.PlayAt(2)
	m.SetShuffle(true)

	if got := m.Next(); got != nil {
		t.Fatalf("expected exhaustion with repeat off, got %+v", got)
	}
}

func TestPreviousUnderShuffleWalksHistory(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(6))
	m.PlayAt(0)
	m.SetShuffle(true)
	m.SeedShuffle(99)

	played := []string{m.Current().QueueID}
	for i := 0; i < 3; i++ {
		got := m.Next()
		if got == nil {
			t.Fatal("queue exhausted early")
		}
		played = append(played, got.QueueID)
	}

	// Walk back through what actually played, most recent first.
	for i := len(played) - 2; i >= 0; i-- {
		got := m.Previous()
		if got == nil || got.QueueID != played[i] {
			t.Fatalf("expected history entry %s, got %+v", played[i], got)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	m := NewManager(nil)
	m.AddAll(makeTracks(60))
	m.PlayAt(0)

	for m.Next() != nil {
	}

	if got := len(m.History()); got != historyLimit {
		t.Errorf("expected history capped at %d, got %d", historyLimit, got)
	}
	// Oldest entries evicted: the first played track is gone.
	for _, h := range m.History() {
		if h.ID == "track-0" {
			t.Error("oldest entry was not evicted")
		}
	}
}

func TestCycleRepeatOrder(t *testing.T) {
	m := NewManager(nil)
	want := []player.RepeatMode{player.RepeatAll, player.RepeatOne, player.RepeatOff, player.RepeatAll}
	for i, mode := range want {
		if got := m.CycleRepeat(); got != mode {
			t.Fatalf("cycle %d: expected %s, got %s", i, mode, got)
		}
	}
}

func TestPointerInvariantAcrossMutationSequences(t *testing.T) {
	m := NewManager(nil)
	m.SeedShuffle(1234)
	m.AddAll(makeTracks(8))

	check := func(op string) {
		t.Helper()
		idx := m.CurrentIndex()
		n := m.Len()
		if idx < -1 || idx >= n {
			t.Fatalf("%s left pointer out of range: idx=%d len=%d", op, idx, n)
		}
		if idx >= 0 && m.Current() == nil {
			t.Fatalf("%s: pointer set but current nil", op)
		}
	}

	m.PlayAt(4)
	check("PlayAt")
	m.Remove(m.Items()[0].QueueID)
	check("Remove head")
	m.Remove(m.Current().QueueID)
	check("Remove current")
	m.Move(0, m.Len()-1)
	check("Move")
	m.SetShuffle(true)
	m.Next()
	check("Next shuffle")
	m.ClearUpcoming()
	check("ClearUpcoming")
	for m.Len() > 0 {
		m.Remove(m.Items()[m.Len()-1].QueueID)
		check("Remove tail")
	}
	m.Next()
	check("Next on empty")
	m.Previous()
	check("Previous on empty")
}
