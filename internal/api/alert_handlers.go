// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
)

// HandleListAlerts returns alerts newest-first.
// GET /api/alerts?severity=high&threat=X&status=new&acknowledged=false&limit=100
func (s *Server) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := alert.Filter{
		Severity: q.Get("severity"),
		Threat:   q.Get("threat"),
		Status:   q.Get("status"),
	}
	if v := q.Get("acknowledged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "acknowledged must be a boolean")
			return
		}
		f.Acknowledged = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	alerts := s.svc.ListAlerts(f)
	WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// HandleGetAlert returns one alert.
// GET /api/alerts/{id}
func (s *Server) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	a, err := s.svc.Alert(id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

// HandleAcknowledgeAlert marks an alert as seen.
// POST /api/alerts/{id}/ack {"user": "analyst", "notes": "..."}
func (s *Server) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User  string `json:"user"`
		Notes string `json:"notes"`
	}
	if !BindJSON(w, r, &req) {
		return
	}
	if req.User == "" {
		WriteError(w, http.StatusBadRequest, "user is required")
		return
	}

	a, err := s.svc.Acknowledge(pathID(r), req.User, req.Notes)
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

// HandleSetAlertStatus moves an alert through the triage lifecycle.
// POST /api/alerts/{id}/status {"status": "resolved", "notes": "..."}
func (s *Server) HandleSetAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if !BindJSON(w, r, &req) {
		return
	}

	a, err := s.svc.SetStatus(pathID(r), req.Status, req.Notes)
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

// pathID extracts the numeric {id} segment. The route pattern guarantees it
// parses.
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}
