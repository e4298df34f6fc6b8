// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the detector over HTTP: alert triage, flow inspection,
// statistics, Prometheus metrics, and live WebSocket streams.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/query"
)

// Server handles API requests. All reads and mutations go through the query
// service; the server holds no pipeline state of its own.
type Server struct {
	svc      *query.Service
	log      *logging.Logger
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewServer builds the API server. gatherer may be nil to disable /metrics.
func NewServer(svc *query.Service, gatherer prometheus.Gatherer) *Server {
	return &Server{
		svc:      svc,
		log:      logging.WithComponent("api"),
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API binds to operator-controlled interfaces; browser
			// origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/alerts", s.HandleListAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/{id:[0-9]+}", s.HandleGetAlert).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/{id:[0-9]+}/ack", s.HandleAcknowledgeAlert).Methods(http.MethodPost)
	r.HandleFunc("/api/alerts/{id:[0-9]+}/status", s.HandleSetAlertStatus).Methods(http.MethodPost)

	r.HandleFunc("/api/flows", s.HandleActiveFlows).Methods(http.MethodGet)
	r.HandleFunc("/api/flows/stored", s.HandleStoredFlows).Methods(http.MethodGet)
	r.HandleFunc("/api/flows/stats", s.HandleFlowStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/flows/export", s.HandleExportFlows).Methods(http.MethodGet)

	r.HandleFunc("/api/devices", s.HandleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/summary", s.HandleDeviceSummary).Methods(http.MethodGet)

	r.HandleFunc("/api/stats/{window}", s.HandleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/debug/suppressions", s.HandleSuppressions).Methods(http.MethodGet)

	r.HandleFunc("/ws/alerts", s.HandleAlertStream)
	r.HandleFunc("/ws/flows", s.HandleFlowStream)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()
	s.log.Info("api server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error body.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// writeKindError maps the error taxonomy onto HTTP status codes.
func writeKindError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	WriteError(w, status, err.Error())
}

// BindJSON decodes the request body, rejecting unknown fields.
func BindJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
