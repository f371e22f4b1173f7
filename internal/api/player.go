/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/friendsincode/bifrost_player/internal/engine"
	"github.com/friendsincode/bifrost_player/internal/library"
	"github.com/friendsincode/bifrost_player/internal/player"
)

type seekRequest struct {
	PositionMs int64 `json:"position_ms"`
}

type volumeRequest struct {
	Volume int `json:"volume"`
}

// playTrackRequest starts playback of one track. Exactly one of the
// fields is used: queue_id jumps to an existing queue entry, track_id
// plays a library track, track plays the inline payload ad hoc.
type playTrackRequest struct {
	QueueID string        `json:"queue_id,omitempty"`
	TrackID string        `json:"track_id,omitempty"`
	Track   *player.Track `json:"track,omitempty"`
}

// handleState returns the unified snapshot of whichever backend is
// audible right now.
func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleResumeSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "resume_unavailable")
		return
	}
	state, err := a.settings.Resume()
	if err != nil {
		a.logger.Error().Err(err).Msg("load resume state failed")
		writeError(w, http.StatusInternalServerError, "resume_load_failed")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Play(r.Context()); err != nil {
		a.transportError(w, err, "play_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Pause(r.Context()); err != nil {
		a.transportError(w, err, "pause_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleNext(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Next(r.Context()); err != nil {
		a.transportError(w, err, "next_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handlePrevious(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Previous(r.Context()); err != nil {
		a.transportError(w, err, "previous_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.PositionMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid_position")
		return
	}
	if err := a.engine.SeekMs(r.Context(), req.PositionMs); err != nil {
		a.transportError(w, err, "seek_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handlePlayTrack(w http.ResponseWriter, r *http.Request) {
	var req playTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	switch {
	case req.QueueID != "":
		index := -1
		for i, id := range a.queue.QueueIDs() {
			if id == req.QueueID {
				index = i
				break
			}
		}
		if index < 0 {
			writeError(w, http.StatusNotFound, "queue_entry_not_found")
			return
		}
		if err := a.engine.PlayQueueIndex(r.Context(), index); err != nil {
			a.transportError(w, err, "play_track_failed")
			return
		}

	case req.TrackID != "":
		if a.library == nil {
			writeError(w, http.StatusServiceUnavailable, "library_unavailable")
			return
		}
		track, err := a.library.PlayableTrack(r.Context(), req.TrackID)
		if err != nil {
			if errors.Is(err, library.ErrTrackNotFound) {
				writeError(w, http.StatusNotFound, "track_not_found")
				return
			}
			a.logger.Error().Err(err).Str("track_id", req.TrackID).Msg("resolve library track failed")
			writeError(w, http.StatusInternalServerError, "track_resolve_failed")
			return
		}
		if err := a.engine.PlayTrack(r.Context(), player.NewQueueTrack(*track)); err != nil {
			a.transportError(w, err, "play_track_failed")
			return
		}

	case req.Track != nil:
		if !req.Track.Source.Valid() || req.Track.Source == player.SourceNone {
			writeError(w, http.StatusBadRequest, "invalid_source")
			return
		}
		if err := a.engine.PlayTrack(r.Context(), player.NewQueueTrack(*req.Track)); err != nil {
			a.transportError(w, err, "play_track_failed")
			return
		}

	default:
		writeError(w, http.StatusBadRequest, "track_required")
		return
	}

	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeVolume(w, r)
	if !ok {
		return
	}
	if err := a.engine.SetVolume(r.Context(), req.Volume); err != nil {
		a.transportError(w, err, "set_volume_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleGlobalVolume(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeVolume(w, r)
	if !ok {
		return
	}
	a.engine.SetGlobalVolume(r.Context(), req.Volume)
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleToggleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := a.engine.ToggleMute(r.Context())
	if err != nil {
		a.transportError(w, err, "toggle_mute_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (a *API) decodeVolume(w http.ResponseWriter, r *http.Request) (volumeRequest, bool) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return req, false
	}
	if req.Volume < 0 || req.Volume > 100 {
		writeError(w, http.StatusBadRequest, "invalid_volume")
		return req, false
	}
	return req, true
}

// transportError maps engine sentinels onto client errors; anything
// else is a server fault.
func (a *API) transportError(w http.ResponseWriter, err error, code string) {
	switch {
	case errors.Is(err, engine.ErrNoTrack):
		writeError(w, http.StatusConflict, "no_track")
	case errors.Is(err, engine.ErrNoAdapter):
		writeError(w, http.StatusConflict, "no_active_source")
	default:
		a.logger.Error().Err(err).Msg("transport command failed")
		writeError(w, http.StatusInternalServerError, code)
	}
}
