/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue implements the ordered playback queue with bounded history,
// shuffle lookahead, and repeat policy.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
)

// historyLimit bounds the previously-played stack; the oldest entry is
// evicted once the limit is reached.
const historyLimit = 50

// Manager owns the queue array, the current-index pointer, and the history
// stack. Shuffle never reorders the stored array; it only changes which index
// the next forward advance lands on. All operations are total: out-of-range
// access is a no-op returning nil.
type Manager struct {
	mu           sync.RWMutex
	items        []player.QueueTrack
	history      []player.QueueTrack
	currentIndex int
	shuffle      bool
	repeat       player.RepeatMode

	// shufflePick pins the forward pick so PeekNext (used by the
	// prefetcher) and Next agree on the same entry. Any queue mutation
	// invalidates it. -1 means no pick is pinned.
	shufflePick int
	rng         *rand.Rand

	bus *events.Bus
}

// NewManager creates an empty queue. The bus may be nil in tests.
func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		currentIndex: -1,
		shufflePick:  -1,
		repeat:       player.RepeatOff,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		bus:          bus,
	}
}

// SeedShuffle reseeds the shuffle source for deterministic tests.
func (m *Manager) SeedShuffle(seed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng = rand.New(rand.NewSource(seed))
}

// Add appends a track with a fresh queue id. Duplicate tracks are allowed.
func (m *Manager) Add(t player.Track) player.QueueTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	qt := player.NewQueueTrack(t)
	m.items = append(m.items, qt)
	m.invalidatePickLocked()
	m.publishLocked()
	return qt
}

// AddAll appends tracks in order, assigning each a fresh queue id.
func (m *Manager) AddAll(tracks []player.Track) []player.QueueTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := make([]player.QueueTrack, 0, len(tracks))
	for _, t := range tracks {
		qt := player.NewQueueTrack(t)
		m.items = append(m.items, qt)
		added = append(added, qt)
	}
	m.invalidatePickLocked()
	m.publishLocked()
	return added
}

// PlayNext inserts the track immediately after the current entry. With no
// current entry it lands at the front.
func (m *Manager) PlayNext(t player.Track) player.QueueTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	qt := player.NewQueueTrack(t)
	at := m.currentIndex + 1
	if at > len(m.items) {
		at = len(m.items)
	}
	m.items = append(m.items, player.QueueTrack{})
	copy(m.items[at+1:], m.items[at:])
	m.items[at] = qt
	m.invalidatePickLocked()
	m.publishLocked()
	return qt
}

// Remove deletes the entry with the given queue id. Removing an entry before
// the current one shifts the pointer down; removing the current entry leaves
// the pointer in place so the following entry becomes current. The pointer is
// clamped when the removed entry was the last one.
func (m *Manager) Remove(queueID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOfLocked(queueID)
	if idx < 0 {
		return false
	}

	m.items = append(m.items[:idx], m.items[idx+1:]...)
	if idx < m.currentIndex {
		m.currentIndex--
	}
	if m.currentIndex >= len(m.items) {
		m.currentIndex = len(m.items) - 1
	}
	m.invalidatePickLocked()
	m.publishLocked()
	return true
}

// Clear empties the queue and the history and unsets the pointer.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = nil
	m.history = nil
	m.currentIndex = -1
	m.invalidatePickLocked()
	m.publishLocked()
}

// ClearUpcoming truncates the queue to the entries up to and including the
// current one. With no current entry the whole queue is dropped.
func (m *Manager) ClearUpcoming() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentIndex < 0 {
		m.items = nil
	} else {
		m.items = m.items[:m.currentIndex+1]
	}
	m.invalidatePickLocked()
	m.publishLocked()
}

// Move reorders the entry at from to position to, keeping the pointer on the
// same logical track.
func (m *Manager) Move(from, to int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if from < 0 || from >= len(m.items) || to < 0 || to >= len(m.items) || from == to {
		return false
	}

	moved := m.items[from]
	m.items = append(m.items[:from], m.items[from+1:]...)
	m.items = append(m.items[:to], append([]player.QueueTrack{moved}, m.items[to:]...)...)

	switch {
	case from == m.currentIndex:
		m.currentIndex = to
	case from < m.currentIndex && to >= m.currentIndex:
		m.currentIndex--
	case from > m.currentIndex && to <= m.currentIndex:
		m.currentIndex++
	}
	m.invalidatePickLocked()
	m.publishLocked()
	return true
}

// PlayAt jumps the pointer to index and returns the new current entry. The
// previous current entry is pushed to history.
func (m *Manager) PlayAt(index int) *player.QueueTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.items) {
		return nil
	}

	m.pushHistoryLocked()
	m.currentIndex = index
	m.invalidatePickLocked()
	m.publishLocked()
	qt := m.items[index]
	return &qt
}

// Current returns the current entry, or nil when the pointer is unset.
func (m *Manager) Current() *player.QueueTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentIndex < 0 || m.currentIndex >= len(m.items) {
		return nil
	}
	qt := m.items[m.currentIndex]
	return &qt
}

// CurrentIndex returns the pointer, -1 when unset.
func (m *Manager) CurrentIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentIndex
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Items returns a copy of the queue in stored order.
func (m *Manager) Items() []player.QueueTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]player.QueueTrack(nil), m.items...)
}

// History returns a copy of the history stack, oldest first.
func (m *Manager) History() []player.QueueTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]player.QueueTrack(nil), m.history...)
}

// QueueIDs returns the queue ids in stored order.
func (m *Manager) QueueIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Map(m.items, func(qt player.QueueTrack, _ int) string { return qt.QueueID })
}

// PeekNext returns the entry a forward advance would land on without moving
// the pointer. Under shuffle the pick is pinned so the following Next lands
// on the same entry.
func (m *Manager) PeekNext() *player.QueueTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.nextIndexLocked()
	if idx < 0 {
		return nil
	}
	qt := m.items[idx]
	return &qt
}

// PeekPrevious returns the entry a backward advance would land on without
// moving the pointer.
func (m *Manager) PeekPrevious() *player.QueueTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.previousIndexLocked()
	if idx < 0 {
		return nil
	}
	qt := m.items[idx]
	return &qt
}

// Next advances the pointer and returns the entry to start, or nil when the
// queue is exhausted (repeat off past the end). Repeat "one" returns the
// current entry without advancing.
func (m *Manager) Next() *player.QueueTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return nil
	}

	if m.repeat == player.RepeatOne && m.currentIndex >= 0 && m.currentIndex < len(m.items) {
		qt := m.items[m.currentIndex]
		return &qt
	}

	idx := m.nextIndexLocked()
	if idx < 0 {
		return nil
	}

	m.pushHistoryLocked()
	m.currentIndex = idx
	m.invalidatePickLocked()
	m.publishLocked()
	qt := m.items[idx]
	return &qt
}

// Previous moves the pointer backward and returns the entry to start. Under
// shuffle it walks the history stack; otherwise plain index math applies.
func (m *Manager) Previous() *player.QueueTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return nil
	}

	if m.repeat == player.RepeatOne && m.currentIndex >= 0 && m.currentIndex < len(m.items) {
		qt := m.items[m.currentIndex]
		return &qt
	}

	if m.shuffle {
		for len(m.history) > 0 {
			last := m.history[len(m.history)-1]
			m.history = m.history[:len(m.history)-1]
			if idx := m.indexOfLocked(last.QueueID); idx >= 0 {
				m.currentIndex = idx
				m.invalidatePickLocked()
				m.publishLocked()
				qt := m.items[idx]
				return &qt
			}
			// Entry was removed since it played; keep walking back.
		}
	}

	idx := m.previousIndexLocked()
	if idx < 0 {
		return nil
	}
	m.currentIndex = idx
	m.invalidatePickLocked()
	m.publishLocked()
	qt := m.items[idx]
	return &qt
}

// SetShuffle toggles shuffle lookahead.
func (m *Manager) SetShuffle(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuffle == on {
		return
	}
	m.shuffle = on
	m.invalidatePickLocked()
	m.publishLocked()
}

// Shuffle reports whether shuffle is on.
func (m *Manager) Shuffle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shuffle
}

// CycleRepeat advances the repeat mode off -> all -> one -> off and returns
// the new mode.
func (m *Manager) CycleRepeat() player.RepeatMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = m.repeat.Next()
	m.invalidatePickLocked()
	m.publishLocked()
	return m.repeat
}

// SetRepeat sets the repeat mode directly.
func (m *Manager) SetRepeat(mode player.RepeatMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = mode
	m.invalidatePickLocked()
	m.publishLocked()
}

// Repeat returns the current repeat mode.
func (m *Manager) Repeat() player.RepeatMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repeat
}

// nextIndexLocked resolves the index a forward advance lands on, or -1. Under
// shuffle a pinned pick is reused until a mutation invalidates it.
func (m *Manager) nextIndexLocked() int {
	if len(m.items) == 0 {
		return -1
	}

	if !m.shuffle {
		if m.currentIndex+1 < len(m.items) {
			return m.currentIndex + 1
		}
		if m.repeat == player.RepeatAll {
			return 0
		}
		return -1
	}

	if m.shufflePick >= 0 && m.shufflePick < len(m.items) {
		return m.shufflePick
	}

	// Uniform pick among the entries after the pointer; with repeat all
	// and nothing left ahead, the pick resets to the whole queue.
	var candidates []int
	for i := m.currentIndex + 1; i < len(m.items); i++ {
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		if m.repeat != player.RepeatAll {
			return -1
		}
		for i := range m.items {
			if i != m.currentIndex || len(m.items) == 1 {
				candidates = append(candidates, i)
			}
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	m.shufflePick = candidates[m.rng.Intn(len(candidates))]
	return m.shufflePick
}

// previousIndexLocked resolves the index a backward advance lands on via
// index math only; shuffle history handling lives in Previous.
func (m *Manager) previousIndexLocked() int {
	if len(m.items) == 0 {
		return -1
	}
	if m.currentIndex-1 >= 0 {
		return m.currentIndex - 1
	}
	if m.repeat == player.RepeatAll {
		return len(m.items) - 1
	}
	return -1
}

func (m *Manager) indexOfLocked(queueID string) int {
	_, idx, ok := lo.FindIndexOf(m.items, func(qt player.QueueTrack) bool {
		return qt.QueueID == queueID
	})
	if !ok {
		return -1
	}
	return idx
}

func (m *Manager) pushHistoryLocked() {
	if m.currentIndex < 0 || m.currentIndex >= len(m.items) {
		return
	}
	m.history = append(m.history, m.items[m.currentIndex])
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

func (m *Manager) invalidatePickLocked() {
	m.shufflePick = -1
}

func (m *Manager) publishLocked() {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.EventQueueUpdated, events.Payload{
		"length":        len(m.items),
		"current_index": m.currentIndex,
	})
}
