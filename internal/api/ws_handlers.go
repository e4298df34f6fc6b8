// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
)

const (
	wsWriteDeadline = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	flowStreamRate  = time.Second
)

// alertEvent is the wire shape on /ws/alerts. New is always true today; the
// manager only publishes on first appearance, never on dedupe updates.
type alertEvent struct {
	Type     string      `json:"type"`
	New      bool        `json:"new"`
	Degraded bool        `json:"degraded,omitempty"`
	Alert    alert.Alert `json:"alert"`
}

// HandleAlertStream pushes alerts to the client as they are created.
// GET /ws/alerts
func (s *Server) HandleAlertStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.svc.SubscribeAlerts()
	defer sub.Close()
	s.log.Debug("alert stream attached", "subscriber", sub.ID())

	closed := watchClose(conn)
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case a, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			ev := alertEvent{Type: "alert", New: true, Degraded: sub.Degraded(), Alert: a}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// HandleFlowStream pushes a snapshot of the live flow table once per second.
// GET /ws/flows?limit=100
func (s *Server) HandleFlowStream(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 100)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	closed := watchClose(conn)
	ticker := time.NewTicker(flowStreamRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			flows := s.svc.ActiveFlows(limit)
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			msg := map[string]any{"type": "flows", "count": len(flows), "flows": flows}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// watchClose drains reads so close frames and pongs are processed, and
// signals when the peer goes away.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
