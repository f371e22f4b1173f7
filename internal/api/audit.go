/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/bifrost_player/internal/audit"
	"github.com/friendsincode/bifrost_player/internal/models"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 1000
)

// auditLogResponse is the JSON response for an audit log entry.
type auditLogResponse struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ListenerID   *string        `json:"listener_id,omitempty"`
	ListenerName string         `json:"listener_name,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
}

// handleAuditList returns a paginated list of audit logs.
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable")
		return
	}

	filters := parseAuditFilters(r)

	entries, total, err := a.audit.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]auditLogResponse, len(entries))
	for i, entry := range entries {
		response[i] = toAuditLogResponse(entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": response,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

// parseAuditFilters extracts query filters from the request. Malformed
// values are ignored rather than rejected.
func parseAuditFilters(r *http.Request) audit.QueryFilters {
	q := r.URL.Query()
	f := audit.QueryFilters{Limit: defaultAuditPage}

	if v := q.Get("listener_id"); v != "" {
		f.ListenerID = &v
	}
	if v := q.Get("action"); v != "" {
		action := models.AuditAction(v)
		f.Action = &action
	}
	if t, err := time.Parse(time.RFC3339, q.Get("start_time")); err == nil {
		f.StartTime = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("end_time")); err == nil {
		f.EndTime = &t
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= maxAuditPage {
		f.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		f.Offset = n
	}
	return f
}

func toAuditLogResponse(entry models.AuditLog) auditLogResponse {
	return auditLogResponse{
		ID:           entry.ID,
		Timestamp:    entry.Timestamp,
		ListenerID:   entry.ListenerID,
		ListenerName: entry.ListenerName,
		Action:       string(entry.Action),
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
	}
}
