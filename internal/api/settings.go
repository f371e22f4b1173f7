/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/friendsincode/bifrost_player/internal/auth"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/settings"
)

func (a *API) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	if a.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.settings.Get())
}

// handleSettingsUpdate applies a partial settings patch and pushes the
// result into the running engine so ducking and gapless pick the new
// values up without a restart.
func (a *API) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	if a.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings_unavailable")
		return
	}

	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && patch.UpdatedBy == "" {
		patch.UpdatedBy = claims.ListenerID
	}

	updated, err := a.settings.Update(patch)
	if err != nil {
		a.logger.Error().Err(err).Msg("settings update failed")
		writeError(w, http.StatusInternalServerError, "settings_update_failed")
		return
	}
	if a.engine != nil {
		a.engine.ApplySettings()
	}

	changed := map[string]any{}
	if buf, err := json.Marshal(patch); err == nil {
		_ = json.Unmarshal(buf, &changed)
	}
	delete(changed, "updated_by")
	a.publishAuditEvent(r, events.EventAuditSettingsUpdate, events.Payload{
		"resource_type": "settings",
		"changed":       changed,
	})

	writeJSON(w, http.StatusOK, updated)
}
