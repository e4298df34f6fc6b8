// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/config"
)

type captured struct {
	path   string
	header http.Header
	body   []byte
}

func captureServer(t *testing.T) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{path: r.URL.Path, header: r.Header.Clone(), body: body}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func receive(t *testing.T, ch chan captured) captured {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery arrived")
		return captured{}
	}
}

func assertNoDelivery(t *testing.T, ch chan captured) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected delivery to %s", c.path)
	case <-time.After(100 * time.Millisecond):
	}
}

func testAlert(threat, severity string) alert.Alert {
	return alert.Alert{
		ID:          1,
		SrcIP:       "10.0.0.50",
		SrcPort:     4444,
		DstIP:       "10.0.0.100",
		DstPort:     80,
		Threat:      threat,
		Severity:    severity,
		Confidence:  0.97,
		PacketCount: 412,
		Context:     "high volume burst",
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, got := captureServer(t)
	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{{
			Name:       "ops",
			Type:       "webhook",
			Enabled:    true,
			WebhookURL: srv.URL + "/hook",
			Headers:    map[string]string{"X-Token": "secret"},
		}},
	})

	d.HandleAlert(testAlert("DDoS-SYN_Flood", "high"))
	c := receive(t, got)

	assert.Equal(t, "/hook", c.path)
	assert.Equal(t, "application/json", c.header.Get("Content-Type"))
	assert.Equal(t, "secret", c.header.Get("X-Token"))

	var payload struct {
		Text  string      `json:"text"`
		Alert alert.Alert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(c.body, &payload))
	assert.Contains(t, payload.Text, "[HIGH] DDoS-SYN_Flood")
	assert.Contains(t, payload.Text, "10.0.0.50:4444 -> 10.0.0.100:80")
	assert.Equal(t, int64(1), payload.Alert.ID)
}

func TestNtfyDelivery(t *testing.T) {
	srv, got := captureServer(t)
	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{{
			Name:    "phone",
			Type:    "ntfy",
			Enabled: true,
			Server:  srv.URL,
			Topic:   "ids-alerts",
		}},
	})

	d.HandleAlert(testAlert("Mirai-greeth_flood", "high"))
	c := receive(t, got)

	assert.Equal(t, "/ids-alerts", c.path)
	assert.Equal(t, "[HIGH] Mirai-greeth_flood", c.header.Get("Title"))
	assert.Equal(t, "high", c.header.Get("Priority"))
	assert.Contains(t, string(c.body), "confidence 0.97")
}

func TestEmailDelivery(t *testing.T) {
	sent := make(chan []byte, 1)
	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{{
			Name:     "mail",
			Type:     "email",
			Enabled:  true,
			SMTPHost: "mail.example.com",
			From:     "ids@example.com",
			To:       []string{"soc@example.com"},
		}},
	})
	d.emailSender = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "mail.example.com:587", addr)
		assert.Equal(t, "ids@example.com", from)
		assert.Equal(t, []string{"soc@example.com"}, to)
		sent <- msg
		return nil
	}

	d.HandleAlert(testAlert("DNS_Spoofing", "high"))

	select {
	case msg := <-sent:
		assert.Contains(t, string(msg), "Subject: [HIGH] DNS_Spoofing")
		assert.Contains(t, string(msg), "DNS_Spoofing detected")
	case <-time.After(2 * time.Second):
		t.Fatal("email never sent")
	}
}

func TestLevelFiltering(t *testing.T) {
	srv, got := captureServer(t)
	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{{
			Name:       "critical-only",
			Type:       "webhook",
			Enabled:    true,
			Level:      "high",
			WebhookURL: srv.URL,
		}},
	})

	d.HandleAlert(testAlert("Recon-PortScan", "medium"))
	assertNoDelivery(t, got)

	d.HandleAlert(testAlert("DDoS-SYN_Flood", "high"))
	receive(t, got)
}

func TestDisabledChannelAndConfig(t *testing.T) {
	srv, got := captureServer(t)

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{{
			Name:       "off",
			Type:       "webhook",
			Enabled:    false,
			WebhookURL: srv.URL,
		}},
	})
	d.HandleAlert(testAlert("DDoS-SYN_Flood", "high"))
	assertNoDelivery(t, got)

	d = NewDispatcher(&config.NotificationsConfig{
		Enabled: false,
		Channels: []config.NotificationChannel{{
			Name:       "on",
			Type:       "webhook",
			Enabled:    true,
			WebhookURL: srv.URL,
		}},
	})
	d.HandleAlert(testAlert("DDoS-SYN_Flood", "high"))
	assertNoDelivery(t, got)

	d = NewDispatcher(nil)
	d.HandleAlert(testAlert("DDoS-SYN_Flood", "high"))
	assertNoDelivery(t, got)
}

func TestRateLimitPerChannelAndThreat(t *testing.T) {
	srv, got := captureServer(t)
	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{{
			Name:       "ops",
			Type:       "webhook",
			Enabled:    true,
			WebhookURL: srv.URL,
		}},
	})

	d.HandleAlert(testAlert("DDoS-SYN_Flood", "high"))
	receive(t, got)

	// Same threat inside the window is dropped.
	d.HandleAlert(testAlert("DDoS-SYN_Flood", "high"))
	assertNoDelivery(t, got)

	// A different threat is not affected.
	d.HandleAlert(testAlert("Recon-PortScan", "medium"))
	receive(t, got)
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, severityAtLeast("high", "medium"))
	assert.True(t, severityAtLeast("medium", "medium"))
	assert.False(t, severityAtLeast("low", "medium"))
	assert.True(t, severityAtLeast("low", ""))
	assert.True(t, severityAtLeast("HIGH", "High"))
}
