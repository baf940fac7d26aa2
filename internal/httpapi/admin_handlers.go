package httpapi

import (
	"net/http"
	"strconv"

	"github.com/lukasbauer/interviewer/internal/eventlog"
)

// handleAdminListActiveSessions returns the sessions running on this instance.
func (r *Router) handleAdminListActiveSessions(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": r.sessions.Active(),
		"draining": r.sessions.IsDraining(),
	})
}

// handleAdminGetSessionEvents returns the event log of a session (for debugging).
func (r *Router) handleAdminGetSessionEvents(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("id")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	events, err := r.eventLog.List(req.Context(), sessionID, limit)
	if err != nil {
		r.logger.Printf("admin: failed to list events for session %s: %v", sessionID, err)
		http.Error(w, `{"error": "failed to list events"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "events": events})
}
