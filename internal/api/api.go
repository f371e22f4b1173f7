/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/audit"
	"github.com/friendsincode/bifrost_player/internal/auth"
	"github.com/friendsincode/bifrost_player/internal/cache"
	"github.com/friendsincode/bifrost_player/internal/engine"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/library"
	"github.com/friendsincode/bifrost_player/internal/logbuffer"
	"github.com/friendsincode/bifrost_player/internal/queue"
	"github.com/friendsincode/bifrost_player/internal/remote"
	"github.com/friendsincode/bifrost_player/internal/settings"
	"github.com/friendsincode/bifrost_player/internal/version"
	"github.com/friendsincode/bifrost_player/internal/videohost"
	"github.com/friendsincode/bifrost_player/internal/webhooks"
)

// sessionTTL is how long an issued listener token stays valid.
const sessionTTL = 24 * time.Hour

// API provides the JSON and WebSocket surface over the playback engine.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	engine    *engine.Engine
	queue     *queue.Manager
	library   *library.Service
	settings  *settings.Service
	players   *videohost.Registry
	embedHost videohost.Host
	remote    *remote.Client
	cache     *cache.Cache
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	updates   *version.Checker
	audit     *audit.Service
	webhooks  *webhooks.Service
	logger    zerolog.Logger
}

// New constructs the API handler set. The library service, embed host,
// remote client, player registry, cache, update checker, log buffer,
// and the audit and webhook services may each be nil; the endpoints
// backed by a missing service answer 503.
func New(db *gorm.DB, jwtSecret []byte, eng *engine.Engine, q *queue.Manager, lib *library.Service, st *settings.Service, players *videohost.Registry, embedHost videohost.Host, remoteClient *remote.Client, entityCache *cache.Cache, bus *events.Bus, logBuf *logbuffer.Buffer, updates *version.Checker, auditSvc *audit.Service, webhookSvc *webhooks.Service, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		engine:    eng,
		queue:     q,
		library:   lib,
		settings:  st,
		players:   players,
		embedHost: embedHost,
		remote:    remoteClient,
		cache:     entityCache,
		bus:       bus,
		logBuffer: logBuf,
		updates:   updates,
		audit:     auditSvc,
		webhooks:  webhookSvc,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/version", a.handleVersion)

		// Public endpoints (no auth required)
		r.Post("/auth/login", a.handleLogin)

		// Ducking endpoints take API keys only. The announcement system
		// is a machine collaborator, never a browser session.
		r.Group(func(dr chi.Router) {
			dr.Use(auth.Middleware(a.db))
			dr.Post("/audio/duck", a.handleDuck)
			dr.Post("/audio/resume", a.handleDuckResume)
			dr.Post("/audio/stop", a.handleStopAll)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/player", func(r chi.Router) {
				r.Get("/state", a.handleState)
				r.Get("/resume", a.handleResumeSnapshot)
				r.Post("/play", a.handlePlay)
				r.Post("/pause", a.handlePause)
				r.Post("/next", a.handleNext)
				r.Post("/previous", a.handlePrevious)
				r.Post("/seek", a.handleSeek)
				r.Post("/track", a.handlePlayTrack)
				r.Post("/volume", a.handleVolume)
				r.Post("/volume/global", a.handleGlobalVolume)
				r.Post("/mute", a.handleToggleMute)
			})

			pr.Route("/queue", func(r chi.Router) {
				r.Get("/", a.handleQueueList)
				r.Post("/", a.handleQueueAdd)
				r.Delete("/", a.handleQueueClear)
				r.Get("/history", a.handleQueueHistory)
				r.Post("/next", a.handleQueuePlayNext)
				r.Post("/move", a.handleQueueMove)
				r.Post("/play/{index}", a.handleQueuePlayAt)
				r.Post("/shuffle", a.handleQueueShuffle)
				r.Post("/repeat", a.handleQueueRepeat)
				r.Delete("/{queueID}", a.handleQueueRemove)
			})

			pr.Route("/library", func(r chi.Router) {
				r.Get("/tracks", a.handleLibraryList)
				r.Get("/tracks/{trackID}", a.handleLibraryGet)
				r.Get("/tracks/{trackID}/artwork", a.handleLibraryArtwork)
				r.Delete("/tracks/{trackID}", a.handleLibraryDelete)
				r.Post("/scan", a.handleLibraryScan)
				r.Get("/stats", a.handleLibraryStats)
			})

			pr.Route("/settings", func(r chi.Router) {
				r.Get("/", a.handleSettingsGet)
				r.Patch("/", a.handleSettingsUpdate)
			})

			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeyCreate)
				r.Delete("/{keyID}", a.handleAPIKeyRevoke)
			})

			pr.Route("/embed", func(r chi.Router) {
				r.Get("/", a.handleEmbedStatus)
				r.Post("/register", a.handleEmbedRegister)
				r.Post("/unregister", a.handleEmbedUnregister)
			})

			pr.Route("/devices", func(r chi.Router) {
				r.Get("/", a.handleDevicesList)
				r.Post("/transfer", a.handleDeviceTransfer)
			})

			pr.Route("/logs", func(r chi.Router) {
				r.Get("/", a.handleLogs)
				r.Get("/components", a.handleLogComponents)
				r.Get("/stats", a.handleLogStats)
				r.Delete("/", a.handleClearLogs)
			})

			pr.Delete("/cache", a.handleCacheFlush)

			pr.Get("/audit", a.handleAuditList)

			pr.Route("/webhooks", func(r chi.Router) {
				r.Get("/", a.handleWebhooksList)
				r.Post("/", a.handleWebhookCreate)
				r.Get("/{webhookID}", a.handleWebhookGet)
				r.Put("/{webhookID}", a.handleWebhookUpdate)
				r.Delete("/{webhookID}", a.handleWebhookDelete)
				r.Post("/{webhookID}/test", a.handleWebhookTest)
				r.Get("/{webhookID}/logs", a.handleWebhookLogs)
			})

			pr.Get("/ws", a.handleSessionSocket)
		})
	})
}

// authMiddleware guards session routes. Both listener JWTs and API keys
// are accepted.
func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if a.cache != nil {
		resp["cache"] = a.cache.IsAvailable()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCacheFlush clears the Redis cache. Useful when the resolver
// starts signing URLs differently and every stored link goes stale at
// once.
func (a *API) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable")
		return
	}
	if err := a.cache.FlushAll(r.Context()); err != nil {
		a.logger.Error().Err(err).Msg("cache flush failed")
		writeError(w, http.StatusInternalServerError, "cache_flush_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version": version.Version,
		"commit":  version.Commit,
	}
	if a.updates != nil {
		resp["update"] = a.updates.Info()
	}
	writeJSON(w, http.StatusOK, resp)
}

// auditContext extracts listener and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["listener_id"] = claims.ListenerID
		payload["listener_name"] = claims.DisplayName
	}
	return payload
}

func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
