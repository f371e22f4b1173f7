/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit records control-plane operations as database rows. The
// service subscribes to audit events on the bus so handlers never block
// on the write.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/models"
)

const defaultQueryLimit = 100

// recordedActions maps bus events to the audit action stored for them.
// Control-plane events name the acting listener in their payload; engine
// and library events have no request behind them and land as system
// actions.
var recordedActions = map[events.EventType]models.AuditAction{
	events.EventAuditAPIKeyCreate:   models.AuditActionAPIKeyCreate,
	events.EventAuditAPIKeyRevoke:   models.AuditActionAPIKeyRevoke,
	events.EventAuditSettingsUpdate: models.AuditActionSettingsUpdate,
	events.EventAuditDeviceTransfer: models.AuditActionDeviceTransfer,
	events.EventTrackDeleted:        models.AuditActionTrackDelete,
	events.EventDuckStarted:         models.AuditActionDuckEngage,
	events.EventDuckEnded:           models.AuditActionDuckRelease,
}

// Service turns bus events into persistent audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start drains recorded events until ctx ends.
func (s *Service) Start(ctx context.Context) {
	types := make([]events.EventType, 0, len(recordedActions))
	for t := range recordedActions {
		types = append(types, t)
	}
	feed := s.bus.SubscribeTagged(ctx, types...)

	s.logger.Info().Int("events", len(types)).Msg("audit service started")

	for ev := range feed {
		s.record(ctx, recordedActions[ev.Type], ev.Payload)
	}
	s.logger.Info().Msg("audit service stopped")
}

// record turns a bus payload into a stored audit row. Well known string
// keys become columns; everything else stays in Details.
func (s *Service) record(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{Action: action, Details: make(map[string]any)}

	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	if id := str("listener_id"); id != "" {
		entry.ListenerID = &id
	}
	entry.ListenerName = str("listener_name")
	entry.ResourceType = str("resource_type")
	entry.ResourceID = str("resource_id")
	entry.IPAddress = str("ip_address")
	entry.UserAgent = str("user_agent")

	for k, v := range payload {
		switch k {
		case "listener_id", "listener_name", "resource_type", "resource_id", "ip_address", "user_agent":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", string(action)).Msg("failed to record audit entry")
	}
}

// Log stores an audit entry directly, filling in whatever the caller
// left unset. Explicit IDs and timestamps are kept as given.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")
	return nil
}

// QueryFilters narrows a Query. Nil fields match everything.
type QueryFilters struct {
	ListenerID *string
	Action     *models.AuditAction
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Query returns matching entries most recent first, plus the total
// match count before pagination.
func (s *Service) Query(ctx context.Context, f QueryFilters) ([]models.AuditLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.ListenerID != nil {
		q = q.Where("listener_id = ?", *f.ListenerID)
	}
	if f.Action != nil {
		q = q.Where("action = ?", *f.Action)
	}
	if f.StartTime != nil {
		q = q.Where("timestamp >= ?", *f.StartTime)
	}
	if f.EndTime != nil {
		q = q.Where("timestamp <= ?", *f.EndTime)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var logs []models.AuditLog
	if err := q.Order("timestamp DESC").Limit(limit).Offset(f.Offset).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
