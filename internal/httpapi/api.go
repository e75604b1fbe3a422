package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"avsync/internal/history"
	"avsync/internal/logging"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Workflow:  s.processor.Status(),
		Listeners: s.hub.Count(),
	}
	if s.history != nil {
		stats, err := s.history.Stats(r.Context())
		if err != nil {
			s.logger.Warn("history stats unavailable", logging.Error(err))
		} else {
			resp.Sessions = stats
		}
	}
	writeJSON(w, s.logger, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, s.logger, http.StatusOK, SessionListResponse{Sessions: []*history.Session{}})
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	var statuses []history.Status
	for _, value := range query["status"] {
		for part := range strings.SplitSeq(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				statuses = append(statuses, history.Status(trimmed))
			}
		}
	}
	sessions, err := s.history.List(r.Context(), limit, statuses...)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*history.Session{}
	}
	writeJSON(w, s.logger, http.StatusOK, SessionListResponse{Sessions: sessions})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, s.logger, http.StatusBadRequest, "invalid session id")
		return
	}
	if s.history == nil {
		writeError(w, s.logger, http.StatusNotFound, "session not found")
		return
	}
	sess, err := s.history.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, s.logger, http.StatusNotFound, "session not found")
		return
	}
	iterations, err := s.history.Iterations(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	if iterations == nil {
		iterations = []history.Iteration{}
	}
	writeJSON(w, s.logger, http.StatusOK, SessionResponse{Session: sess, Iterations: iterations})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, s.logger, http.StatusOK, LogStreamResponse{Events: []logging.LogEvent{}})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := truthy(query.Get("follow"))
	tail := truthy(query.Get("tail"))
	component := strings.TrimSpace(query.Get("component"))
	reference, _ := strconv.Atoi(query.Get("reference"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = s.logs.Tail(limit)
	} else {
		var err error
		events, next, err = s.logs.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			writeError(w, s.logger, http.StatusInternalServerError, err.Error())
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if reference != 0 && evt.Reference != reference {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	writeJSON(w, s.logger, http.StatusOK, LogStreamResponse{Events: filtered, Next: next})
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
