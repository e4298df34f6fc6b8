// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleStatistics returns alert counters for one window.
// GET /api/stats/{window}  where window is hour, day, week, or all
func (s *Server) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Statistics(mux.Vars(r)["window"])
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// HandleSuppressions returns the recent suppression ring for cascade tuning.
// GET /api/debug/suppressions
func (s *Server) HandleSuppressions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.svc.Suppressions())
}
