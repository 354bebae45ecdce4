package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// allowGet rejects anything but GET and reports whether to continue.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
	return false
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// statsHandler reports live sessions per stage (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	perStage := make(map[string]int, len(models.Stages))
	for _, st := range models.Stages {
		perStage[st.String()] = 0
	}
	ids := s.sessions.IDs()
	busy := 0
	for _, id := range ids {
		snap, ok, inFlight := s.sessions.TrySnapshot(id)
		switch {
		case inFlight:
			busy++
		case ok:
			perStage[snap.Stage.String()]++
		}
	}
	stats := map[string]interface{}{
		"transport":         s.opts.Transport,
		"active_sessions":   len(ids),
		"busy_sessions":     busy,
		"sessions_by_stage": perStage,
	}
	if s.opts.Mailboxes != nil {
		stats["active_mailboxes"] = s.opts.Mailboxes()
	}
	slog.Debug("Server.statsHandler: stats computed", "active_sessions", len(ids))
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// eventsHandler returns audit records, newest first
// (GET /events?session=&stage=&limit=). A stage filter is applied to the
// newest MaxEventLimit records.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	query := r.URL.Query()
	limit := DefaultEventLimit
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > MaxEventLimit {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be between 1 and "+strconv.Itoa(MaxEventLimit)))
			return
		}
		limit = n
	}
	var stage string
	if v := query.Get("stage"); v != "" {
		st, err := models.ParseStage(v)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		stage = st.String()
	}

	sessionID := query.Get("session")
	fetch := limit
	if stage != "" {
		fetch = MaxEventLimit
	}
	events, err := s.opts.Events.ListEvents(r.Context(), sessionID, fetch)
	if err != nil {
		slog.Error("Server.eventsHandler: failed to list events", "error", err, "session", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to fetch events"))
		return
	}
	if stage == "" {
		if events == nil {
			events = []models.ConversationEvent{}
		}
		writeJSONResponse(w, http.StatusOK, models.Success(events))
		return
	}

	matched := make([]models.ConversationEvent, 0, limit)
	for _, e := range events {
		if e.Stage == stage {
			matched = append(matched, e)
			if len(matched) == limit {
				break
			}
		}
	}
	slog.Debug("Server.eventsHandler: stage filter applied", "stage", stage, "scanned", len(events), "matched", len(matched))
	msg := "filtered by stage " + stage + " over the newest " + strconv.Itoa(len(events)) + " events"
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(msg, matched))
}
