/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bifrost_player/internal/auth"
	"github.com/friendsincode/bifrost_player/internal/events"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type apiKeyCreateRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// handleLogin exchanges listener credentials for a session token.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "credentials_required")
		return
	}

	claims, err := auth.Login(a.db, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		a.logger.Error().Err(err).Msg("login failed")
		writeError(w, http.StatusInternalServerError, "login_failed")
		return
	}

	token, err := auth.Issue(a.jwtSecret, *claims, sessionTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("issue session token failed")
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":        token,
		"listener_id":  claims.ListenerID,
		"display_name": claims.DisplayName,
		"expires_in":   int64(sessionTTL.Seconds()),
	})
}

// handleAPIKeyCreate mints an API key for the calling listener. The
// plaintext key appears in this response and nowhere else.
func (a *API) handleAPIKeyCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req apiKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	if !auth.ValidAPIKeyTTL(req.ExpiresInDays) {
		writeError(w, http.StatusBadRequest, "invalid_expiration")
		return
	}

	expiresIn := time.Duration(req.ExpiresInDays) * 24 * time.Hour
	plaintext, apiKey, err := auth.GenerateAPIKey(claims.ListenerID, req.Name, expiresIn)
	if err != nil {
		a.logger.Error().Err(err).Msg("generate api key failed")
		writeError(w, http.StatusInternalServerError, "key_generation_failed")
		return
	}
	if err := a.db.Create(apiKey).Error; err != nil {
		a.logger.Error().Err(err).Msg("store api key failed")
		writeError(w, http.StatusInternalServerError, "key_store_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyCreate, events.Payload{
		"resource_type": "apikey",
		"resource_id":   apiKey.ID,
		"key_name":      apiKey.Name,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         apiKey.ID,
		"name":       apiKey.Name,
		"key":        plaintext,
		"key_prefix": apiKey.KeyPrefix,
		"expires_at": apiKey.ExpiresAt,
	})
}

func (a *API) handleAPIKeysList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := auth.ListAPIKeys(a.db, claims.ListenerID)
	if err != nil {
		a.logger.Error().Err(err).Msg("list api keys failed")
		writeError(w, http.StatusInternalServerError, "list_keys_failed")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (a *API) handleAPIKeyRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := auth.RevokeAPIKey(a.db, keyID, claims.ListenerID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "key_not_found")
			return
		}
		a.logger.Error().Err(err).Str("key_id", keyID).Msg("revoke api key failed")
		writeError(w, http.StatusInternalServerError, "revoke_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyRevoke, events.Payload{
		"resource_type": "apikey",
		"resource_id":   keyID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"revoked": keyID})
}
