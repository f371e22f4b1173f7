/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bifrost_player/internal/library"
)

func (a *API) requireLibrary(w http.ResponseWriter) bool {
	if a.library == nil {
		writeError(w, http.StatusServiceUnavailable, "library_unavailable")
		return false
	}
	return true
}

func (a *API) handleLibraryList(w http.ResponseWriter, r *http.Request) {
	if !a.requireLibrary(w) {
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	search := q.Get("search")

	tracks, total, err := a.library.List(r.Context(), search, page, pageSize)
	if err != nil {
		a.logger.Error().Err(err).Msg("list library tracks failed")
		writeError(w, http.StatusInternalServerError, "list_tracks_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tracks": tracks,
		"total":  total,
	})
}

func (a *API) handleLibraryGet(w http.ResponseWriter, r *http.Request) {
	if !a.requireLibrary(w) {
		return
	}

	trackID := chi.URLParam(r, "trackID")
	row, err := a.library.Get(r.Context(), trackID)
	if err != nil {
		a.logger.Error().Err(err).Str("track_id", trackID).Msg("get library track failed")
		writeError(w, http.StatusInternalServerError, "get_track_failed")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "track_not_found")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *API) handleLibraryArtwork(w http.ResponseWriter, r *http.Request) {
	if !a.requireLibrary(w) {
		return
	}

	trackID := chi.URLParam(r, "trackID")
	data, mime, err := a.library.Artwork(r.Context(), trackID)
	if err != nil {
		if errors.Is(err, library.ErrTrackNotFound) || errors.Is(err, library.ErrNoArtwork) {
			writeError(w, http.StatusNotFound, "artwork_not_found")
			return
		}
		a.logger.Error().Err(err).Str("track_id", trackID).Msg("read artwork failed")
		writeError(w, http.StatusInternalServerError, "artwork_read_failed")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleLibraryDelete drops the index row. With ?remove_file=true the
// underlying media object goes too.
func (a *API) handleLibraryDelete(w http.ResponseWriter, r *http.Request) {
	if !a.requireLibrary(w) {
		return
	}

	trackID := chi.URLParam(r, "trackID")
	removeFile := r.URL.Query().Get("remove_file") == "true"
	if err := a.library.Delete(r.Context(), trackID, removeFile); err != nil {
		if errors.Is(err, library.ErrTrackNotFound) {
			writeError(w, http.StatusNotFound, "track_not_found")
			return
		}
		a.logger.Error().Err(err).Str("track_id", trackID).Msg("delete library track failed")
		writeError(w, http.StatusInternalServerError, "delete_track_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": trackID})
}

// handleLibraryScan walks the media root synchronously and reports what
// changed.
func (a *API) handleLibraryScan(w http.ResponseWriter, r *http.Request) {
	if !a.requireLibrary(w) {
		return
	}

	result, err := a.library.Scan(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("library scan failed")
		writeError(w, http.StatusInternalServerError, "scan_failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleLibraryStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireLibrary(w) {
		return
	}

	count, totalSize, err := a.library.Stats(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("library stats failed")
		writeError(w, http.StatusInternalServerError, "stats_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"tracks":           count,
		"total_size_bytes": totalSize,
	})
}
