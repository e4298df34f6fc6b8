// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import "net/http"

// HandleListDevices returns every device profiled on the network.
// GET /api/devices
func (s *Server) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.svc.ListDevices()
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"count":   len(devices),
		"devices": devices,
	})
}

// HandleDeviceSummary returns aggregate device counts.
// GET /api/devices/summary
func (s *Server) HandleDeviceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.DeviceSummary()
	if err != nil {
		writeKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
