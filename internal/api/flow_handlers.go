// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/store"
)

// HandleActiveFlows returns the live flow table, heaviest flows first.
// GET /api/flows?limit=100
func (s *Server) HandleActiveFlows(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 100)
	if !ok {
		return
	}
	flows := s.svc.ActiveFlows(limit)
	WriteJSON(w, http.StatusOK, map[string]any{"flows": flows, "count": len(flows)})
}

// HandleStoredFlows returns persisted flow records, newest first.
// GET /api/flows/stored?limit=100&label=DDoS-SYN_Flood&since_hours=24
func (s *Server) HandleStoredFlows(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 100)
	if !ok {
		return
	}

	var (
		recs []store.Record
		err  error
	)
	if label := r.URL.Query().Get("label"); label != "" {
		recs, err = s.svc.FlowsByAttack(label, limit)
	} else {
		var since time.Time
		if v := r.URL.Query().Get("since_hours"); v != "" {
			hours, perr := strconv.Atoi(v)
			if perr != nil || hours < 0 {
				WriteError(w, http.StatusBadRequest, "since_hours must be a non-negative integer")
				return
			}
			since = time.Now().Add(-time.Duration(hours) * time.Hour)
		}
		recs, err = s.svc.StoredFlows(limit, since)
	}
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"flows": recs, "count": len(recs)})
}

// HandleFlowStatistics aggregates persisted flows.
// GET /api/flows/stats?hours=24
func (s *Server) HandleFlowStatistics(w http.ResponseWriter, r *http.Request) {
	hours := 0
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "hours must be a non-negative integer")
			return
		}
		hours = n
	}

	st, err := s.svc.FlowStatistics(hours)
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// HandleExportFlows streams persisted flows as CSV for offline analysis or
// retraining.
// GET /api/flows/export?label=X&since_hours=24&limit=10000
func (s *Server) HandleExportFlows(w http.ResponseWriter, r *http.Request) {
	f := store.ExportFilter{Label: r.URL.Query().Get("label")}
	if v := r.URL.Query().Get("since_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			WriteError(w, http.StatusBadRequest, "since_hours must be a non-negative integer")
			return
		}
		f.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=flows-%s.csv", time.Now().Format("20060102-150405")))
	if err := s.svc.ExportFlows(w, f); err != nil {
		// Headers may already be gone; log instead of rewriting the status.
		s.log.Error("flow export failed", "error", err)
	}
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
