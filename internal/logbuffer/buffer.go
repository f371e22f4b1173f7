/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory so the API
// can serve them without a log shipper. Entries arrive through a zerolog
// writer tee and age out oldest-first once the ring is full.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry is one captured log line, split into the fields the query
// surface filters on plus the untouched raw JSON.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Raw       string         `json:"raw,omitempty"`
}

// Buffer is a fixed-capacity ring of log entries safe for concurrent use.
type Buffer struct {
	mu   sync.RWMutex
	ring []LogEntry
	next int
	full bool
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Buffer{ring: make([]LogEntry, capacity)}
}

// Add appends an entry, evicting the oldest once the ring wraps.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.next] = entry
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
}

// snapshotLocked copies the ring contents oldest-first.
func (b *Buffer) snapshotLocked() []LogEntry {
	if !b.full {
		out := make([]LogEntry, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]LogEntry, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// GetAll returns every buffered entry in chronological order.
func (b *Buffer) GetAll() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

// QueryParams narrows a log query.
type QueryParams struct {
	Level      string    // zerolog level name
	Component  string    // component sublogger field
	Source     string    // playback source field set by the adapters
	Search     string    // substring match over message, component, string fields
	Since      time.Time // entries at or after this instant
	Limit      int       // 0 means unlimited
	Descending bool      // newest first
}

func (p QueryParams) matches(e LogEntry) bool {
	if p.Level != "" && e.Level != p.Level {
		return false
	}
	if p.Component != "" && e.Component != p.Component {
		return false
	}
	if p.Source != "" {
		src, ok := e.Fields["source"].(string)
		if !ok || src != p.Source {
			return false
		}
	}
	if !p.Since.IsZero() && e.Timestamp.Before(p.Since) {
		return false
	}
	if p.Search != "" {
		needle := strings.ToLower(p.Search)
		if strings.Contains(strings.ToLower(e.Message), needle) {
			return true
		}
		if strings.Contains(strings.ToLower(e.Component), needle) {
			return true
		}
		for _, v := range e.Fields {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
		return false
	}
	return true
}

// Query returns the entries matching params, oldest-first unless
// Descending is set.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	var out []LogEntry
	for _, e := range b.GetAll() {
		if params.matches(e) {
			out = append(out, e)
		}
	}

	if params.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out
}

// GetComponents lists the distinct component names currently buffered.
func (b *Buffer) GetComponents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range b.snapshotLocked() {
		if e.Component == "" {
			continue
		}
		if _, ok := seen[e.Component]; ok {
			continue
		}
		seen[e.Component] = struct{}{}
		out = append(out, e.Component)
	}
	return out
}

// Stats summarizes buffer occupancy by level.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
}

func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.snapshotLocked()
	stats := Stats{
		Capacity:   len(b.ring),
		Count:      len(entries),
		LevelCount: make(map[string]int),
	}
	for _, e := range entries {
		stats.LevelCount[e.Level]++
	}
	return stats
}

// Clear drops all buffered entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.full = false
}

// Writer tees zerolog output into a buffer. Lines that are not zerolog
// JSON pass through to the fallback untouched and uncaptured.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter wraps buffer as an io.Writer for zerolog. fallback may be nil.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

func (w *Writer) Write(p []byte) (int, error) {
	if entry, ok := parseLine(p); ok {
		w.buffer.Add(entry)
	}
	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

// parseLine splits a zerolog JSON line into the well-known fields,
// leaving everything else in Fields.
func parseLine(p []byte) (LogEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return LogEntry{}, false
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Fields:    make(map[string]any),
		Raw:       string(p),
	}
	for k, v := range raw {
		switch k {
		case "level":
			entry.Level, _ = v.(string)
		case "message":
			entry.Message, _ = v.(string)
		case "component":
			entry.Component, _ = v.(string)
		case "time":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					entry.Timestamp = t
				}
			}
		default:
			entry.Fields[k] = v
		}
	}
	return entry, true
}
