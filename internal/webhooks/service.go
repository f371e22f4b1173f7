/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers playback events to registered HTTP
// endpoints. Payloads are HMAC-signed when the target has a secret so
// receivers can verify the sender.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/models"
)

// WebhookPayload is the payload sent to webhook endpoints.
type WebhookPayload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Track     *TrackPayload  `json:"track,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// TrackPayload represents the playing track in the webhook payload.
type TrackPayload struct {
	ID      string `json:"id"`
	QueueID string `json:"queue_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Service handles webhook delivery.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// outboundEvents maps bus events to the webhook event name delivered
// for them.
var outboundEvents = map[events.EventType]models.WebhookEventType{
	events.EventTrackChanged:  models.WebhookEventTrackChanged,
	events.EventStateUpdated:  models.WebhookEventStateUpdated,
	events.EventPlaybackError: models.WebhookEventPlaybackError,
	events.EventDuckStarted:   models.WebhookEventDuckStarted,
	events.EventDuckEnded:     models.WebhookEventDuckEnded,
}

// Start delivers playback events to registered targets until ctx ends.
func (s *Service) Start(ctx context.Context) {
	types := make([]events.EventType, 0, len(outboundEvents))
	for t := range outboundEvents {
		types = append(types, t)
	}
	feed := s.bus.SubscribeTagged(ctx, types...)

	s.logger.Info().Int("events", len(types)).Msg("webhook service started")

	for ev := range feed {
		s.fireWebhooks(ctx, outboundEvents[ev.Type], ev.Payload)
	}
	s.logger.Info().Msg("webhook service stopped")
}

// fireWebhooks sends webhooks for a single bus event.
func (s *Service) fireWebhooks(ctx context.Context, eventType models.WebhookEventType, payload events.Payload) {
	var targets []models.WebhookTarget
	if err := s.db.Where("active = ?", true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch webhooks")
		return
	}
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(s.buildPayload(eventType, payload))
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(eventType)).Msg("failed to marshal webhook payload")
		return
	}

	for _, target := range targets {
		if !target.Subscribed(string(eventType)) {
			continue
		}
		go s.sendWebhook(ctx, target, string(eventType), body)
	}
}

// buildPayload shapes a bus payload for delivery. Track change events
// carry a typed track block; everything else passes the payload through.
func (s *Service) buildPayload(eventType models.WebhookEventType, payload events.Payload) WebhookPayload {
	out := WebhookPayload{
		Event:     string(eventType),
		Timestamp: time.Now().UTC(),
	}

	if eventType == models.WebhookEventTrackChanged {
		track := &TrackPayload{}
		track.ID, _ = payload["track_id"].(string)
		track.QueueID, _ = payload["queue_id"].(string)
		track.Title, _ = payload["title"].(string)
		track.Source, _ = payload["source"].(string)
		out.Track = track
		return out
	}

	out.Data = payload
	return out
}

// sendWebhook sends a single webhook request.
func (s *Service) sendWebhook(ctx context.Context, webhook models.WebhookTarget, eventType string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", webhook.ID).Msg("failed to create webhook request")
		s.logWebhookDelivery(webhook, eventType, 0, err.Error(), 0)
		return
	}
	s.setHeaders(req, eventType, body, webhook.Secret)

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", webhook.ID).Str("url", webhook.URL).Msg("webhook delivery failed")
		s.logWebhookDelivery(webhook, eventType, 0, err.Error(), elapsed)
		return
	}
	defer resp.Body.Close()

	s.logWebhookDelivery(webhook, eventType, resp.StatusCode, "", elapsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug().Str("webhook", webhook.ID).Str("event", eventType).Int("status", resp.StatusCode).Msg("webhook delivered")
	} else {
		s.logger.Warn().Str("webhook", webhook.ID).Str("event", eventType).Int("status", resp.StatusCode).Msg("webhook returned error status")
	}
}

// setHeaders applies the delivery headers and HMAC signature.
func (s *Service) setHeaders(req *http.Request, eventType string, body []byte, secret string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Bifrost-Player-Webhook/1.0")
	req.Header.Set("X-Bifrost-Event", eventType)
	req.Header.Set("X-Bifrost-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if secret != "" {
		req.Header.Set("X-Bifrost-Signature", s.signPayload(body, secret))
	}
}

// signPayload creates an HMAC-SHA256 signature.
func (s *Service) signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// logWebhookDelivery logs a webhook delivery attempt.
func (s *Service) logWebhookDelivery(webhook models.WebhookTarget, eventType string, statusCode int, errorMsg string, durationMs int) {
	log := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   webhook.ID,
		Event:      eventType,
		StatusCode: statusCode,
		Error:      errorMsg,
		Duration:   durationMs,
	}

	if err := s.db.Create(log).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to log webhook delivery")
	}
}

// TestWebhook sends a test payload to a webhook.
func (s *Service) TestWebhook(webhook *models.WebhookTarget) error {
	payload := WebhookPayload{
		Event:     "test",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"message": "This is a test webhook delivery",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req, "test", body, webhook.Secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
