/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package syncbus fans playback state out to every session of the same
// listener over NATS. Each process publishes its own transitions and applies
// the ones other nodes publish, so play on one device is mirrored by the rest.
package syncbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

// Config contains NATS connection configuration.
type Config struct {
	URL      string
	Token    string
	Listener string // Listener whose sessions share one subject
	NodeID   string // Optional stable node identity; generated when empty

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	// Circuit breaker
	MaxFailures int
}

// DefaultConfig returns default NATS configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Listener:      "default",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		MaxFailures:   5,
	}
}

// Broadcaster is a NATS-backed playback state broadcaster.
// Falls back to local-only delivery if NATS is unavailable (circuit breaker
// pattern); the in-process bus always sees every accepted state.
type Broadcaster struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	logger  zerolog.Logger
	local   *events.Bus
	nodeID  string
	subject string

	mu       sync.RWMutex
	handlers []func(player.SyncState)

	// Circuit breaker state
	useFallback bool
	failCount   int
	maxFails    int
}

// New creates a playback sync broadcaster publishing on
// "bifrost.sync.<listener>". A failed connection is not fatal: the
// broadcaster keeps serving the in-process bus and rejoins NATS when the
// client reconnects.
func New(cfg Config, local *events.Bus, logger zerolog.Logger) *Broadcaster {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = generateNodeID()
	}

	b := &Broadcaster{
		logger:   logger.With().Str("component", "syncbus").Logger(),
		local:    local,
		nodeID:   nodeID,
		subject:  "bifrost.sync." + sanitizeToken(cfg.Listener),
		maxFails: cfg.MaxFailures,
	}
	if b.maxFails <= 0 {
		b.maxFails = DefaultConfig().MaxFailures
	}

	opts := []nats.Option{
		nats.Name("bifrost-sync-" + nodeID),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.resetBreaker()
			b.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.logger.Info().Msg("NATS connection closed")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		b.logger.Warn().Err(err).Msg("NATS connection failed, sync is local-only")
		b.useFallback = true
		return b
	}
	b.conn = conn

	sub, err := conn.Subscribe(b.subject, b.handleMessage)
	if err != nil {
		b.logger.Warn().Err(err).Msg("NATS subscribe failed, sync is local-only")
		conn.Close()
		b.conn = nil
		b.useFallback = true
		return b
	}
	b.sub = sub

	b.logger.Info().
		Str("subject", b.subject).
		Str("node_id", nodeID).
		Msg("playback sync broadcaster started")

	return b
}

// NodeID returns this process's sync identity.
func (b *Broadcaster) NodeID() string {
	return b.nodeID
}

// Subject returns the NATS subject this broadcaster publishes on.
func (b *Broadcaster) Subject() string {
	return b.subject
}

// Connected reports whether NATS delivery is currently live.
func (b *Broadcaster) Connected() bool {
	b.mu.RLock()
	fallback := b.useFallback
	b.mu.RUnlock()
	return !fallback && b.conn != nil && b.conn.IsConnected()
}

// OnRemoteStateChange registers fn for states published by other nodes.
// fn runs on the delivery goroutine and must not block.
func (b *Broadcaster) OnRemoteStateChange(fn func(player.SyncState)) {
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
}

// BroadcastPlaybackState announces a local playback transition. The state is
// always published on the in-process bus; NATS delivery is skipped while the
// circuit breaker is open.
func (b *Broadcaster) BroadcastPlaybackState(action player.SyncAction, state player.SyncState) {
	state.Action = action

	b.local.Publish(events.EventSyncState, syncPayload(state, b.nodeID))

	b.mu.RLock()
	fallback := b.useFallback
	b.mu.RUnlock()
	if fallback || b.conn == nil {
		return
	}

	data, err := json.Marshal(wireMessage{
		Action:    action,
		State:     state,
		Timestamp: time.Now(),
		NodeID:    b.nodeID,
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal sync message")
		return
	}

	if err := b.conn.Publish(b.subject, data); err != nil {
		b.logger.Error().Err(err).Str("action", string(action)).Msg("failed to publish sync message")
		b.handleFailure()
		return
	}
	telemetry.SyncMessagesTotal.WithLabelValues("sent").Inc()

	b.mu.Lock()
	b.failCount = 0
	b.mu.Unlock()
}

// Close drains the subscription and closes the NATS connection.
func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain sync connection: %w", err)
	}
	return nil
}

// handleMessage handles one inbound sync message.
func (b *Broadcaster) handleMessage(msg *nats.Msg) {
	env, err := unmarshalMessage(msg.Data)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to unmarshal sync message")
		return
	}

	// Skip messages from ourselves (prevent echo).
	if env.NodeID == b.nodeID {
		return
	}
	telemetry.SyncMessagesTotal.WithLabelValues("received").Inc()

	env.State.Action = env.Action
	b.local.Publish(events.EventSyncState, syncPayload(env.State, env.NodeID))

	b.mu.RLock()
	handlers := append(([]func(player.SyncState))(nil), b.handlers...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(env.State)
	}

	b.logger.Debug().
		Str("action", string(env.Action)).
		Str("source_node", env.NodeID).
		Msg("applied remote playback state")
}

// handleFailure implements circuit breaker logic.
func (b *Broadcaster) handleFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failCount++
	if b.failCount >= b.maxFails && !b.useFallback {
		b.logger.Warn().
			Int("fail_count", b.failCount).
			Msg("NATS failure threshold reached, sync is local-only until reconnect")
		b.useFallback = true
	}
}

// resetBreaker re-enables NATS delivery after a reconnect.
func (b *Broadcaster) resetBreaker() {
	b.mu.Lock()
	b.failCount = 0
	b.useFallback = false
	b.mu.Unlock()
}

// wireMessage represents a message published to NATS.
type wireMessage struct {
	Action    player.SyncAction `json:"action"`
	State     player.SyncState  `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
	NodeID    string            `json:"node_id"` // For identifying source node
}

// unmarshalMessage parses a sync message.
func unmarshalMessage(data []byte) (*wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal sync message: %w", err)
	}
	return &msg, nil
}

// syncPayload flattens a sync state for the in-process bus.
func syncPayload(state player.SyncState, nodeID string) events.Payload {
	p := events.Payload{
		"action":      string(state.Action),
		"node_id":     nodeID,
		"is_playing":  state.IsPlaying,
		"progress_ms": state.ProgressMs,
		"duration_ms": state.DurationMs,
		"source":      string(state.ActiveSource),
	}
	if state.CurrentTrack != nil {
		p["track_id"] = state.CurrentTrack.ID
		p["queue_id"] = state.CurrentTrack.QueueID
	}
	return p
}

// generateNodeID builds a unique node identity from the hostname.
func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

// sanitizeToken makes s safe to use as a single NATS subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "default"
	}
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return sb.String()
}
