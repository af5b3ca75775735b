package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/ada-core/internal/choreography"
	"github.com/nerrad567/ada-core/internal/fleet"
	"github.com/nerrad567/ada-core/internal/process"
	"github.com/nerrad567/ada-core/internal/schedule"
	"github.com/nerrad567/ada-core/internal/store"
)

type fleetResponse struct {
	Sequence int64               `json:"sequence"`
	Sessions []fleet.SessionInfo `json:"sessions"`
	Stale    []string            `json:"stale"`
}

type scheduleResponse struct {
	schedule.Status
	Engine *choreography.Status `json:"engine,omitempty"`
}

type controlRequest struct {
	Path string `json:"path"`
	From string `json:"from,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleFleet(w http.ResponseWriter, _ *http.Request) {
	resp := fleetResponse{
		Sequence: s.fleet.Sequence(),
		Sessions: s.fleet.Snapshot(),
		Stale:    s.fleet.StaleClients(),
	}
	if resp.Sessions == nil {
		resp.Sessions = []fleet.SessionInfo{}
	}
	if resp.Stale == nil {
		resp.Stale = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	resp := scheduleResponse{Status: s.schedule.Status(s.now())}
	if s.engine != nil {
		st := s.engine.Status()
		resp.Engine = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcesses(w http.ResponseWriter, _ *http.Request) {
	stats := []process.Stats{}
	if s.procs != nil {
		stats = append(stats, s.procs.Stats()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": stats})
}

// handleControl queues a remote-control path, exactly as if it had arrived
// over MQTT.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		writeBadRequest(w, "path is required")
		return
	}
	from := req.From
	if from == "" {
		from = subjectFrom(r.Context())
	}

	if err := s.control.Submit(from, req.Path); err != nil {
		status, code, msg := controlFailure(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("control submit failed", "path", req.Path, "error", err)
		}
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": req.Path})
}

// handleEvents lists the event log, newest first.
// Query: kind, subject, since (RFC 3339), limit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event log is not configured")
		return
	}

	q := r.URL.Query()
	f := store.Filter{
		Kind:    q.Get("kind"),
		Subject: q.Get("subject"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	events, err := s.events.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
