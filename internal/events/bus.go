/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"
	"sync"
)

// EventType enumerates event categories.
type EventType string

const (
	// Adapter events. Payloads carry a "source" tag so the engine can
	// ignore events from adapters that are no longer active.
	EventPlaybackProgress EventType = "playback.progress"
	EventPlaybackEnded    EventType = "playback.ended"
	EventPlaybackError    EventType = "playback.error"

	// Engine events.
	EventTrackChanged  EventType = "engine.track_changed"
	EventStateUpdated  EventType = "engine.state_updated"
	EventVolumeChanged EventType = "engine.volume_changed"
	EventDuckStarted   EventType = "engine.duck_started"
	EventDuckEnded     EventType = "engine.duck_ended"

	// Queue events.
	EventQueueUpdated EventType = "queue.updated"

	// Prefetch events.
	EventPrefetchWarmed    EventType = "prefetch.warmed"
	EventPrefetchDiscarded EventType = "prefetch.discarded"

	// Library index events.
	EventLibraryUpdated EventType = "library.updated"
	EventTrackDeleted   EventType = "library.track_deleted"

	// Embedded player registration events.
	EventPlayerRegistered   EventType = "embed.registered"
	EventPlayerUnregistered EventType = "embed.unregistered"

	// Cross-session sync events. Payloads carry the originating node id.
	EventSyncState EventType = "sync.state"

	// Audit events (for operations that need explicit audit logging)
	EventAuditAPIKeyCreate   EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke   EventType = "audit.apikey.revoke"
	EventAuditSettingsUpdate EventType = "audit.settings.update"
	EventAuditDeviceTransfer EventType = "audit.device.transfer"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events
// rather than stall the publisher. The lock is held across the sends so
// Unsubscribe cannot close a channel mid delivery.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}

// Tagged couples a payload with the event type that produced it, for
// subscribers that drain several event types through one channel.
type Tagged struct {
	Type    EventType
	Payload Payload
}

// SubscribeTagged merges subscriptions to the given event types into a
// single channel. Forwarding stops when ctx ends; the merged channel
// closes once every forwarder has unsubscribed, so callers can range
// over it.
func (b *Bus) SubscribeTagged(ctx context.Context, types ...EventType) <-chan Tagged {
	merged := make(chan Tagged, 8)

	var wg sync.WaitGroup
	for _, eventType := range types {
		sub := b.Subscribe(eventType)

		wg.Add(1)
		go func(eventType EventType, sub Subscriber) {
			defer wg.Done()
			defer b.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload := <-sub:
					select {
					case merged <- Tagged{Type: eventType, Payload: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	return merged
}
