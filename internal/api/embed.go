/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/friendsincode/bifrost_player/internal/cache"
	"github.com/friendsincode/bifrost_player/internal/events"
)

type embedRegisterRequest struct {
	Player string `json:"player,omitempty"`
}

type deviceTransferRequest struct {
	DeviceID string `json:"device_id"`
	Play     bool   `json:"play"`
}

// handleEmbedRegister brings the embedded video player online. Video
// tracks are only startable while a player is registered; the host is
// the process-wide embed page driver, so registration is last-writer-
// wins.
func (a *API) handleEmbedRegister(w http.ResponseWriter, r *http.Request) {
	if a.players == nil || a.embedHost == nil {
		writeError(w, http.StatusServiceUnavailable, "embed_unavailable")
		return
	}

	var req embedRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	name := req.Player
	if name == "" {
		name = "embed"
	}

	a.players.Register(name, a.embedHost)
	writeJSON(w, http.StatusOK, map[string]string{"player": name})
}

func (a *API) handleEmbedUnregister(w http.ResponseWriter, r *http.Request) {
	if a.players == nil {
		writeError(w, http.StatusServiceUnavailable, "embed_unavailable")
		return
	}

	host, err := a.players.Active()
	if err != nil {
		writeError(w, http.StatusConflict, "no_player_registered")
		return
	}
	a.players.Unregister(host)
	writeJSON(w, http.StatusOK, map[string]bool{"unregistered": true})
}

func (a *API) handleEmbedStatus(w http.ResponseWriter, r *http.Request) {
	if a.players == nil {
		writeError(w, http.StatusServiceUnavailable, "embed_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": a.players.HasPlayer(),
		"player":     a.players.ActiveName(),
	})
}

// handleDevicesList lists remote playback targets, serving the cached
// list while it is fresh.
func (a *API) handleDevicesList(w http.ResponseWriter, r *http.Request) {
	if a.remote == nil || !a.remote.Configured() {
		writeError(w, http.StatusServiceUnavailable, "remote_unavailable")
		return
	}

	if a.cache != nil {
		if cached, ok := a.cache.GetDeviceList(r.Context()); ok {
			writeJSON(w, http.StatusOK, map[string]any{"devices": cached})
			return
		}
	}

	devices, err := a.remote.Devices(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list remote devices failed")
		writeError(w, http.StatusBadGateway, "devices_failed")
		return
	}

	if a.cache != nil {
		cached := make([]cache.CachedDevice, len(devices))
		for i, d := range devices {
			cached[i] = cache.CachedDevice{ID: d.ID, Name: d.Name, Type: d.Type, IsActive: d.IsActive}
		}
		if err := a.cache.SetDeviceList(r.Context(), cached); err != nil {
			a.logger.Debug().Err(err).Msg("cache device list")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleDeviceTransfer moves remote playback onto another device.
func (a *API) handleDeviceTransfer(w http.ResponseWriter, r *http.Request) {
	if a.remote == nil || !a.remote.Configured() {
		writeError(w, http.StatusServiceUnavailable, "remote_unavailable")
		return
	}

	var req deviceTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id_required")
		return
	}

	if err := a.remote.Transfer(r.Context(), req.DeviceID, req.Play); err != nil {
		a.logger.Error().Err(err).Str("device_id", req.DeviceID).Msg("device transfer failed")
		writeError(w, http.StatusBadGateway, "transfer_failed")
		return
	}

	// The active flag moved, so the cached list is stale.
	if a.cache != nil {
		if err := a.cache.InvalidateDeviceList(r.Context()); err != nil {
			a.logger.Debug().Err(err).Msg("invalidate device list")
		}
	}

	a.publishAuditEvent(r, events.EventAuditDeviceTransfer, events.Payload{
		"resource_type": "device",
		"resource_id":   req.DeviceID,
		"play":          req.Play,
	})

	writeJSON(w, http.StatusOK, map[string]string{"active_device": req.DeviceID})
}
