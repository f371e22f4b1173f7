/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bifrost_player/internal/models"
)

// webhookCreateRequest is the body for webhook registration.
type webhookCreateRequest struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Events string `json:"events"` // comma-separated: track_changed,duck_started
}

// webhookUpdateRequest carries partial webhook updates.
type webhookUpdateRequest struct {
	Name   *string `json:"name,omitempty"`
	URL    *string `json:"url,omitempty"`
	Events *string `json:"events,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// handleWebhooksList returns all registered webhooks.
func (a *API) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	var targets []models.WebhookTarget
	if err := a.db.Order("created_at DESC").Find(&targets).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "list_webhooks_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"webhooks": targets,
	})
}

// handleWebhookCreate registers a new webhook target.
func (a *API) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}

	webhook := models.NewWebhookTarget(req.Name, req.URL, req.Events)
	if err := a.db.Create(webhook).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "webhook_create_failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": webhook,
		"secret":  webhook.Secret, // Returned only on create
	})
}

// handleWebhookGet returns a specific webhook.
func (a *API) handleWebhookGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")

	var webhook models.WebhookTarget
	if err := a.db.First(&webhook, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "webhook_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"webhook": webhook,
	})
}

// handleWebhookUpdate updates a webhook.
func (a *API) handleWebhookUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")

	var webhook models.WebhookTarget
	if err := a.db.First(&webhook, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "webhook_not_found")
		return
	}

	var req webhookUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.URL != nil {
		updates["url"] = *req.URL
	}
	if req.Events != nil {
		updates["events"] = *req.Events
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) > 0 {
		if err := a.db.Model(&webhook).Updates(updates).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "webhook_update_failed")
			return
		}
	}

	a.db.First(&webhook, "id = ?", id)

	writeJSON(w, http.StatusOK, map[string]any{
		"webhook": webhook,
	})
}

// handleWebhookDelete deletes a webhook and its delivery logs.
func (a *API) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")

	var webhook models.WebhookTarget
	if err := a.db.First(&webhook, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "webhook_not_found")
		return
	}

	a.db.Where("target_id = ?", id).Delete(&models.WebhookLog{})

	if err := a.db.Delete(&webhook).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "webhook_delete_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": id,
	})
}

// handleWebhookTest sends a test payload to the webhook's endpoint.
func (a *API) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks_unavailable")
		return
	}

	id := chi.URLParam(r, "webhookID")

	var webhook models.WebhookTarget
	if err := a.db.First(&webhook, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "webhook_not_found")
		return
	}

	if err := a.webhooks.TestWebhook(&webhook); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
	})
}

// handleWebhookLogs returns recent delivery attempts for a webhook.
func (a *API) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")

	var webhook models.WebhookTarget
	if err := a.db.First(&webhook, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "webhook_not_found")
		return
	}

	var logs []models.WebhookLog
	if err := a.db.Where("target_id = ?", id).Order("created_at DESC").Limit(100).Find(&logs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "webhook_logs_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs": logs,
	})
}
