// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/capture"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/clock"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/device"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/query"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/stats"
)

type testEnv struct {
	srv *httptest.Server
	svc *query.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := metrics.New()
	clk := clock.NewMockClock()

	mgr, err := alert.NewManager(alert.Config{
		LogPath:      filepath.Join(t.TempDir(), "alerts.jsonl"),
		DedupeWindow: 10 * time.Second,
		MaxAlerts:    100,
	}, clk, m)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	agg := flow.NewAggregator(flow.Config{ScoreInterval: 10, IdleTimeout: time.Minute, MaxFlows: 100},
		func(flow.Snapshot, bool) {}, m)
	agg.Start()
	t.Cleanup(agg.Stop)

	svc := &query.Service{Alerts: mgr, Flows: agg, Stats: stats.New("", clk), Devices: device.NewTracker(clk)}
	srv := httptest.NewServer(NewServer(svc, nil).Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, svc: svc}
}

func (e *testEnv) ingestAlert(srcPort uint16) alert.Alert {
	snap := flow.Snapshot{
		Key: flow.Key{
			SrcIP:    netip.MustParseAddr("203.0.113.7"),
			DstIP:    netip.MustParseAddr("10.0.0.100"),
			Protocol: 6,
			SrcPort:  srcPort,
			DstPort:  80,
		},
		PacketCount: 400,
	}
	pred := model.Prediction{Label: "DDoS-SYN_Flood", Severity: "medium", Confidence: 0.97, Method: "ensemble_consensus"}
	a, _ := e.svc.Alerts.Ingest(snap, pred, "test")
	return a
}

func getJSON(t *testing.T, url string, dest any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, dest any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func TestAlertEndpoints(t *testing.T) {
	env := newTestEnv(t)
	created := env.ingestAlert(4444)

	var list struct {
		Alerts []alert.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	status := getJSON(t, env.srv.URL+"/api/alerts?severity=medium", &list)
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "DDoS-SYN_Flood", list.Alerts[0].Threat)

	var got alert.Alert
	status = getJSON(t, fmt.Sprintf("%s/api/alerts/%d", env.srv.URL, created.ID), &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ID, got.ID)

	status = getJSON(t, env.srv.URL+"/api/alerts/9999", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAcknowledgeAndStatusEndpoints(t *testing.T) {
	env := newTestEnv(t)
	created := env.ingestAlert(4444)
	base := fmt.Sprintf("%s/api/alerts/%d", env.srv.URL, created.ID)

	var acked alert.Alert
	status := postJSON(t, base+"/ack", map[string]string{"user": "analyst"}, &acked)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "analyst", acked.AckUser)

	status = postJSON(t, base+"/ack", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status, "user is required")

	var updated alert.Alert
	status = postJSON(t, base+"/status", map[string]string{"status": "resolved", "notes": "done"}, &updated)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, alert.StatusResolved, updated.Status)

	status = postJSON(t, base+"/status", map[string]string{"status": "bogus"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatisticsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Stats.RecordAlert(env.ingestAlert(4444))

	var st stats.WindowStats
	status := getJSON(t, env.srv.URL+"/api/stats/hour", &st)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), st.Total)

	status = getJSON(t, env.srv.URL+"/api/stats/month", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStoredFlowsUnavailableWithoutStore(t *testing.T) {
	env := newTestEnv(t)
	status := getJSON(t, env.srv.URL+"/api/flows/stored", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Devices.Observe(capture.Packet{
		SrcMAC:  capture.MAC{0x98, 0xF4, 0xAB, 0, 0, 1},
		SrcIP:   netip.MustParseAddr("192.168.1.23"),
		DstIP:   netip.MustParseAddr("192.168.1.1"),
		SrcPort: 49152,
		DstPort: 8883,
	})

	var list struct {
		Count   int             `json:"count"`
		Devices []device.Device `json:"devices"`
	}
	status := getJSON(t, env.srv.URL+"/api/devices", &list)
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, list.Count)
	assert.True(t, list.Devices[0].IoT)
	assert.Equal(t, "Espressif (ESP32)", list.Devices[0].Vendor)

	var summary device.Summary
	status = getJSON(t, env.srv.URL+"/api/devices/summary", &summary)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, summary.IoT)
}

func TestSuppressionsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	var view query.SuppressionView
	status := getJSON(t, env.srv.URL+"/api/debug/suppressions", &view)
	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, view.Total)
}

func TestAlertWebSocketStream(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/alerts"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	created := env.ingestAlert(5555)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type  string      `json:"type"`
		New   bool        `json:"new"`
		Alert alert.Alert `json:"alert"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "alert", ev.Type)
	assert.True(t, ev.New)
	assert.Equal(t, created.ID, ev.Alert.ID)
}

func TestFlowWebSocketStream(t *testing.T) {
	env := newTestEnv(t)

	env.svc.Flows.Ingest(capture.Packet{
		Monotonic: time.Millisecond,
		Wall:      time.Now(),
		SrcIP:     netip.MustParseAddr("10.0.0.50"),
		DstIP:     netip.MustParseAddr("10.0.0.100"),
		Protocol:  6, SrcPort: 1111, DstPort: 80,
		Length: 100,
	})

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/flows"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg struct {
		Type  string           `json:"type"`
		Count int              `json:"count"`
		Flows []query.FlowView `json:"flows"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "flows", msg.Type)
	require.Equal(t, 1, msg.Count)
	assert.Equal(t, uint16(1111), msg.Flows[0].SrcPort)
}
