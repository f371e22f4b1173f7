/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bifrost_player/internal/library"
	"github.com/friendsincode/bifrost_player/internal/player"
)

// queueAddRequest enqueues tracks. Inline payloads are taken as-is;
// track ids are resolved through the library so entries land in the
// queue with a playable URL attached.
type queueAddRequest struct {
	TrackID  string         `json:"track_id,omitempty"`
	TrackIDs []string       `json:"track_ids,omitempty"`
	Track    *player.Track  `json:"track,omitempty"`
	Tracks   []player.Track `json:"tracks,omitempty"`
}

type queueMoveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type shuffleRequest struct {
	Enabled bool `json:"enabled"`
}

type repeatRequest struct {
	Mode string `json:"mode,omitempty"`
}

type queueSnapshot struct {
	Items        []player.QueueTrack `json:"items"`
	CurrentIndex int                 `json:"current_index"`
	Shuffle      bool                `json:"shuffle"`
	Repeat       player.RepeatMode   `json:"repeat"`
}

func (a *API) snapshotQueue() queueSnapshot {
	return queueSnapshot{
		Items:        a.queue.Items(),
		CurrentIndex: a.queue.CurrentIndex(),
		Shuffle:      a.queue.Shuffle(),
		Repeat:       a.queue.Repeat(),
	}
}

func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.snapshotQueue())
}

func (a *API) handleQueueHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.queue.History())
}

func (a *API) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	switch {
	case len(req.Tracks) > 0:
		for i := range req.Tracks {
			if !req.Tracks[i].Source.Valid() || req.Tracks[i].Source == player.SourceNone {
				writeError(w, http.StatusBadRequest, "invalid_source")
				return
			}
		}
		writeJSON(w, http.StatusCreated, a.queue.AddAll(req.Tracks))

	case len(req.TrackIDs) > 0:
		tracks := make([]player.Track, 0, len(req.TrackIDs))
		for _, id := range req.TrackIDs {
			track, status, code := a.trackFromRequest(r.Context(), id, nil)
			if track == nil {
				writeError(w, status, code)
				return
			}
			tracks = append(tracks, *track)
		}
		writeJSON(w, http.StatusCreated, a.queue.AddAll(tracks))

	default:
		track, status, code := a.trackFromRequest(r.Context(), req.TrackID, req.Track)
		if track == nil {
			writeError(w, status, code)
			return
		}
		writeJSON(w, http.StatusCreated, a.queue.Add(*track))
	}
}

// handleQueuePlayNext inserts a track directly after the current one.
func (a *API) handleQueuePlayNext(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	track, status, code := a.trackFromRequest(r.Context(), req.TrackID, req.Track)
	if track == nil {
		writeError(w, status, code)
		return
	}
	writeJSON(w, http.StatusCreated, a.queue.PlayNext(*track))
}

func (a *API) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "queueID")
	if !a.queue.Remove(queueID) {
		writeError(w, http.StatusNotFound, "queue_entry_not_found")
		return
	}
	writeJSON(w, http.StatusOK, a.snapshotQueue())
}

// handleQueueClear empties the queue. With ?upcoming=true only the
// entries after the current track are dropped.
func (a *API) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("upcoming") == "true" {
		a.queue.ClearUpcoming()
	} else {
		a.queue.Clear()
	}
	writeJSON(w, http.StatusOK, a.snapshotQueue())
}

func (a *API) handleQueueMove(w http.ResponseWriter, r *http.Request) {
	var req queueMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !a.queue.Move(req.From, req.To) {
		writeError(w, http.StatusBadRequest, "invalid_move")
		return
	}
	writeJSON(w, http.StatusOK, a.snapshotQueue())
}

func (a *API) handleQueuePlayAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}
	if err := a.engine.PlayQueueIndex(r.Context(), index); err != nil {
		a.transportError(w, err, "play_at_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleQueueShuffle(w http.ResponseWriter, r *http.Request) {
	var req shuffleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	a.queue.SetShuffle(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"shuffle": a.queue.Shuffle()})
}

// handleQueueRepeat sets the repeat mode, or cycles it when the body
// names none.
func (a *API) handleQueueRepeat(w http.ResponseWriter, r *http.Request) {
	var req repeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	switch player.RepeatMode(req.Mode) {
	case player.RepeatOff, player.RepeatAll, player.RepeatOne:
		a.queue.SetRepeat(player.RepeatMode(req.Mode))
	case "":
		a.queue.CycleRepeat()
	default:
		writeError(w, http.StatusBadRequest, "invalid_repeat_mode")
		return
	}
	writeJSON(w, http.StatusOK, map[string]player.RepeatMode{"repeat": a.queue.Repeat()})
}

// trackFromRequest materializes the track named by an add request. The
// int and string returns are the error status and code when the track
// comes back nil.
func (a *API) trackFromRequest(ctx context.Context, trackID string, inline *player.Track) (*player.Track, int, string) {
	if inline != nil {
		if !inline.Source.Valid() || inline.Source == player.SourceNone {
			return nil, http.StatusBadRequest, "invalid_source"
		}
		return inline, 0, ""
	}
	if trackID == "" {
		return nil, http.StatusBadRequest, "track_required"
	}
	if a.library == nil {
		return nil, http.StatusServiceUnavailable, "library_unavailable"
	}
	track, err := a.library.PlayableTrack(ctx, trackID)
	if err != nil {
		if errors.Is(err, library.ErrTrackNotFound) {
			return nil, http.StatusNotFound, "track_not_found"
		}
		a.logger.Error().Err(err).Str("track_id", trackID).Msg("resolve library track failed")
		return nil, http.StatusInternalServerError, "track_resolve_failed"
	}
	return track, 0, ""
}
