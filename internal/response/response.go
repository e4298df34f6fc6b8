// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package response runs automated actions against alert sources. Actions are
// pluggable; the engine gates them by severity and rate-limits per source IP
// so a noisy attacker cannot trigger the same action in a tight loop.
package response

import (
	"sync"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

// Action reacts to one alert. Implementations must be safe for concurrent
// use; the engine invokes them from the alert manager's goroutine.
type Action interface {
	Name() string
	React(a alert.Alert) error
}

// Config gates the response engine.
type Config struct {
	// Minimum severity that triggers actions. Empty means high only.
	MinSeverity string

	// Cooldown between actions against the same source IP.
	Cooldown time.Duration
}

const defaultCooldown = 5 * time.Minute

// Engine fans alerts out to registered actions. It implements alert.Sink.
type Engine struct {
	cfg     Config
	log     *logging.Logger
	actions []Action

	mu       sync.Mutex
	lastSeen map[string]time.Time

	now func() time.Time
}

// NewEngine builds an engine with no actions registered.
func NewEngine(cfg Config) *Engine {
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = model.SeverityHigh
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Engine{
		cfg:      cfg,
		log:      logging.WithComponent("response"),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Register adds an action. Not safe to call after the engine is in use.
func (e *Engine) Register(a Action) {
	e.actions = append(e.actions, a)
}

// HandleAlert implements alert.Sink.
func (e *Engine) HandleAlert(a alert.Alert) {
	if len(e.actions) == 0 {
		return
	}
	if severityRank(a.Severity) < severityRank(e.cfg.MinSeverity) {
		return
	}
	if e.onCooldown(a.SrcIP) {
		e.log.Debug("response on cooldown", "src_ip", a.SrcIP, "threat", a.Threat)
		return
	}
	for _, act := range e.actions {
		if err := act.React(a); err != nil {
			e.log.Error("response action failed",
				"action", act.Name(), "src_ip", a.SrcIP, "threat", a.Threat, "error", err)
			continue
		}
		e.log.Info("response action executed",
			"action", act.Name(), "src_ip", a.SrcIP, "threat", a.Threat, "severity", a.Severity)
	}
}

func (e *Engine) onCooldown(srcIP string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if last, ok := e.lastSeen[srcIP]; ok && now.Sub(last) < e.cfg.Cooldown {
		return true
	}
	if len(e.lastSeen) > 10000 {
		e.lastSeen = make(map[string]time.Time)
	}
	e.lastSeen[srcIP] = now
	return false
}

func severityRank(sev string) int {
	switch sev {
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 1
	default:
		return 0
	}
}

// LogAction records the offending source without touching the network. It is
// the default action when no enforcement hook is configured.
type LogAction struct {
	log *logging.Logger
}

// NewLogAction builds the audit-only action.
func NewLogAction() *LogAction {
	return &LogAction{log: logging.WithComponent("response.log")}
}

func (l *LogAction) Name() string { return "log" }

func (l *LogAction) React(a alert.Alert) error {
	l.log.Warn("threat source flagged",
		"src_ip", a.SrcIP, "dst_ip", a.DstIP, "dst_port", a.DstPort,
		"threat", a.Threat, "confidence", a.Confidence)
	return nil
}
