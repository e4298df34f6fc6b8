// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package notify delivers emitted alerts to outbound channels: webhooks,
// ntfy topics, and email.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/config"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

// rateLimitWindow suppresses repeat deliveries of the same threat on the
// same channel. Alert dedupe already collapses bursts; this guards against
// storms of distinct flows carrying one attack.
const rateLimitWindow = 60 * time.Second

// Dispatcher fans alerts out to configured channels. HandleAlert never
// blocks the alert manager; delivery happens on its own goroutines.
type Dispatcher struct {
	cfg *config.NotificationsConfig
	log *logging.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time

	httpClient *http.Client

	// emailSender is injectable for tests.
	emailSender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewDispatcher builds a dispatcher; cfg may be nil to disable delivery.
func NewDispatcher(cfg *config.NotificationsConfig) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		log:         logging.WithComponent("notify"),
		lastSent:    make(map[string]time.Time),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		emailSender: smtp.SendMail,
	}
}

// HandleAlert implements alert.Sink.
func (d *Dispatcher) HandleAlert(a alert.Alert) {
	if d.cfg == nil || !d.cfg.Enabled {
		return
	}
	for _, ch := range d.cfg.Channels {
		if !ch.Enabled {
			continue
		}
		if !severityAtLeast(a.Severity, ch.Level) {
			continue
		}
		if d.rateLimited(ch.Name, a.Threat) {
			d.log.Debug("notification rate limited", "channel", ch.Name, "threat", a.Threat)
			continue
		}
		go func(channel config.NotificationChannel) {
			if err := d.deliver(channel, a); err != nil {
				d.log.Error("failed to deliver notification",
					"channel", channel.Name, "type", channel.Type, "error", err)
			}
		}(ch)
	}
}

// severityAtLeast reports whether sev meets the channel's minimum level.
// An empty minimum accepts everything.
func severityAtLeast(sev, minLevel string) bool {
	if minLevel == "" {
		return true
	}
	rank := map[string]int{
		model.SeverityLow:    1,
		model.SeverityMedium: 2,
		model.SeverityHigh:   3,
	}
	return rank[strings.ToLower(sev)] >= rank[strings.ToLower(minLevel)]
}

func (d *Dispatcher) rateLimited(channel, threat string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := channel + ":" + threat
	now := time.Now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < rateLimitWindow {
		return true
	}
	if len(d.lastSent) > 1000 {
		d.lastSent = make(map[string]time.Time)
	}
	d.lastSent[key] = now
	return false
}

func (d *Dispatcher) deliver(ch config.NotificationChannel, a alert.Alert) error {
	switch strings.ToLower(ch.Type) {
	case "webhook":
		return d.sendWebhook(ch, a)
	case "ntfy":
		return d.sendNtfy(ch, a)
	case "email":
		return d.sendEmail(ch, a)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

func title(a alert.Alert) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity), a.Threat)
}

func body(a alert.Alert) string {
	return fmt.Sprintf("%s detected: %s:%d -> %s:%d (confidence %.2f, %d packets)\n%s",
		a.Threat, a.SrcIP, a.SrcPort, a.DstIP, a.DstPort, a.Confidence, a.PacketCount, a.Context)
}

func (d *Dispatcher) sendWebhook(ch config.NotificationChannel, a alert.Alert) error {
	if ch.WebhookURL == "" {
		return fmt.Errorf("missing webhook_url")
	}

	payload, err := json.Marshal(map[string]any{
		"text":  fmt.Sprintf("*%s*\n%s", title(a), body(a)),
		"alert": a,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, ch.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendNtfy(ch config.NotificationChannel, a alert.Alert) error {
	if ch.Topic == "" {
		return fmt.Errorf("missing topic for ntfy")
	}
	server := ch.Server
	if server == "" {
		server = "https://ntfy.sh"
	}
	url := strings.TrimSuffix(server, "/") + "/" + ch.Topic

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body(a)))
	if err != nil {
		return err
	}
	req.Header.Set("Title", title(a))
	switch a.Severity {
	case model.SeverityHigh:
		req.Header.Set("Priority", "high")
		req.Header.Set("Tags", "rotating_light")
	case model.SeverityMedium:
		req.Header.Set("Priority", "default")
		req.Header.Set("Tags", "warning")
	default:
		req.Header.Set("Priority", "low")
	}
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendEmail(ch config.NotificationChannel, a alert.Alert) error {
	if ch.SMTPHost == "" || len(ch.To) == 0 {
		return fmt.Errorf("missing smtp_host or recipients")
	}

	port := ch.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", ch.SMTPHost, port)

	var auth smtp.Auth
	if ch.SMTPUser != "" {
		auth = smtp.PlainAuth("", ch.SMTPUser, ch.SMTPPassword, ch.SMTPHost)
	}

	from := ch.From
	if from == "" {
		from = "ids@localhost"
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(ch.To, ","))
	fmt.Fprintf(&msg, "Subject: %s\r\n", title(a))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body(a))
	msg.WriteString("\r\n")

	return d.emailSender(addr, auth, from, ch.To, []byte(msg.String()))
}
