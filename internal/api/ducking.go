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

	"github.com/friendsincode/bifrost_player/internal/models"
	"github.com/friendsincode/bifrost_player/internal/settings"
)

// duckRequest tunes one ducking envelope. Omitted fields fall back to
// the persisted player settings.
type duckRequest struct {
	TargetVolume *int   `json:"target_volume,omitempty"`
	FadeMs       *int64 `json:"fade_ms,omitempty"`
}

func (a *API) duckDefaults() models.PlayerSettings {
	if a.settings != nil {
		return a.settings.Get()
	}
	return settings.Defaults()
}

// handleDuck fades every backend down and pauses. The response is sent
// once the ramp has finished, so the caller can start its announcement
// the moment this returns.
func (a *API) handleDuck(w http.ResponseWriter, r *http.Request) {
	var req duckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	defaults := a.duckDefaults()
	target := defaults.DuckTargetVolume
	if req.TargetVolume != nil {
		target = *req.TargetVolume
	}
	fadeMs := defaults.DuckFadeMs
	if req.FadeMs != nil && *req.FadeMs >= 0 {
		fadeMs = *req.FadeMs
	}

	snap := a.engine.FadeAllAndPause(r.Context(), target, fadeMs)
	writeJSON(w, http.StatusOK, snap)
}

// handleDuckResume restores playback from the pending duck snapshot.
// Each duck restores at most once.
func (a *API) handleDuckResume(w http.ResponseWriter, r *http.Request) {
	var req duckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	fadeMs := a.duckDefaults().RestoreFadeMs
	if req.FadeMs != nil && *req.FadeMs >= 0 {
		fadeMs = *req.FadeMs
	}

	if !a.engine.ResumeFromDuck(r.Context(), fadeMs) {
		writeError(w, http.StatusConflict, "no_pending_duck")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restored": true})
}

func (a *API) handleStopAll(w http.ResponseWriter, r *http.Request) {
	a.engine.StopAllAudio()
	writeJSON(w, http.StatusOK, a.engine.State())
}
