// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/clock"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

// Sink receives every newly created alert. Implementations must not block;
// the manager invokes sinks on its write path.
type Sink interface {
	HandleAlert(a Alert)
}

// Config tunes the manager.
type Config struct {
	// LogPath is the JSON-per-line append log; empty disables durability.
	LogPath      string
	DedupeWindow time.Duration
	MaxAlerts    int
}

type dedupeKey struct {
	flowKey flow.Key
	threat  string
}

// Manager is the single writer for all alert state.
type Manager struct {
	cfg   Config
	clk   clock.Clock
	log   *logging.Logger
	m     *metrics.Metrics
	sinks []Sink

	mu      sync.RWMutex
	alerts  map[int64]*Alert
	order   []int64 // ascending id
	dedupe  map[dedupeKey]dedupeEntry
	nextID  int64
	logFile *os.File

	subs *broadcaster
}

type dedupeEntry struct {
	id   int64
	seen time.Time
}

// NewManager opens (and replays) the alert log and prepares the table.
func NewManager(cfg Config, clk clock.Clock, m *metrics.Metrics, sinks ...Sink) (*Manager, error) {
	mgr := &Manager{
		cfg:    cfg,
		clk:    clk,
		log:    logging.WithComponent("alerts"),
		m:      m,
		sinks:  sinks,
		alerts: make(map[int64]*Alert),
		dedupe: make(map[dedupeKey]dedupeEntry),
		nextID: 1,
		subs:   newBroadcaster(m),
	}
	if cfg.LogPath != "" {
		if err := mgr.replayLog(); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, errors.Wrap(err, errors.KindUnavailable, "failed to create alert log dir")
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open alert log")
		}
		mgr.logFile = f
	}
	return mgr, nil
}

// Close flushes and releases the append log.
func (mg *Manager) Close() error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.subs.closeAll()
	if mg.logFile != nil {
		err := mg.logFile.Close()
		mg.logFile = nil
		return err
	}
	return nil
}

// Ingest records a detection. Repeats of the same (flow, threat) inside the
// dedupe window update the existing alert instead of creating a new one.
// Returns the alert and whether it was newly created.
func (mg *Manager) Ingest(snap flow.Snapshot, pred model.Prediction, context string) (Alert, bool) {
	now := mg.clk.Now()
	key := dedupeKey{flowKey: snap.Key, threat: pred.Label}

	mg.mu.Lock()
	defer mg.mu.Unlock()

	if e, ok := mg.dedupe[key]; ok && now.Sub(e.seen) <= mg.cfg.DedupeWindow {
		a := mg.alerts[e.id]
		if a != nil {
			if pred.Confidence > a.Confidence {
				a.Confidence = pred.Confidence
			}
			a.PacketCount = snap.PacketCount
			a.LastUpdated = wallSeconds(now)
			mg.dedupe[key] = dedupeEntry{id: e.id, seen: now}
			mg.appendLog(*a)
			return *a, false
		}
	}

	a := &Alert{
		ID:           mg.nextID,
		Timestamp:    wallSeconds(now),
		SrcIP:        snap.Key.SrcIP.String(),
		DstIP:        snap.Key.DstIP.String(),
		SrcPort:      snap.Key.SrcPort,
		DstPort:      snap.Key.DstPort,
		Protocol:     snap.Key.Protocol,
		Threat:       pred.Label,
		Severity:     pred.Severity,
		Confidence:   pred.Confidence,
		Context:      context,
		PacketCount:  snap.PacketCount,
		LastUpdated:  wallSeconds(now),
		Acknowledged: false,
		Status:       StatusNew,
	}
	mg.nextID++
	mg.alerts[a.ID] = a
	mg.order = append(mg.order, a.ID)
	mg.dedupe[key] = dedupeEntry{id: a.ID, seen: now}
	mg.evictOverflow()

	mg.appendLog(*a)
	mg.m.AlertsTotal.WithLabelValues(a.Severity).Inc()
	mg.log.Info("alert created",
		"id", a.ID, "threat", a.Threat, "severity", a.Severity,
		"confidence", fmt.Sprintf("%.3f", a.Confidence), "src", a.SrcIP, "dst", a.DstIP)

	mg.subs.publish(*a)
	for _, s := range mg.sinks {
		s.HandleAlert(*a)
	}
	return *a, true
}

// Acknowledge marks an alert as seen by an operator. Idempotent.
func (mg *Manager) Acknowledge(id int64, user, notes string) (Alert, error) {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	a, ok := mg.alerts[id]
	if !ok {
		return Alert{}, errors.Errorf(errors.KindNotFound, "alert %d not found", id)
	}
	if !a.Acknowledged {
		a.Acknowledged = true
		a.AckUser = user
		a.AckTime = wallSeconds(mg.clk.Now())
		if notes != "" {
			a.Notes = appendNote(a.Notes, notes)
		}
		a.LastUpdated = a.AckTime
		mg.appendLog(*a)
	}
	return *a, nil
}

// SetStatus transitions the alert state machine. Repeating the current
// status is a no-op; leaving a terminal status is recorded in notes as an
// explicit operator override.
func (mg *Manager) SetStatus(id int64, status, notes string) (Alert, error) {
	if !ValidStatus(status) {
		return Alert{}, errors.Errorf(errors.KindValidation, "unknown status %q", status)
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()

	a, ok := mg.alerts[id]
	if !ok {
		return Alert{}, errors.Errorf(errors.KindNotFound, "alert %d not found", id)
	}
	if a.Status == status {
		return *a, nil
	}
	if terminal(a.Status) {
		a.Notes = appendNote(a.Notes, fmt.Sprintf("reopened: %s -> %s", a.Status, status))
	}
	if notes != "" {
		a.Notes = appendNote(a.Notes, notes)
	}
	a.Status = status
	a.LastUpdated = wallSeconds(mg.clk.Now())
	mg.appendLog(*a)
	return *a, nil
}

// Get returns one alert by id.
func (mg *Manager) Get(id int64) (Alert, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	a, ok := mg.alerts[id]
	if !ok {
		return Alert{}, errors.Errorf(errors.KindNotFound, "alert %d not found", id)
	}
	return *a, nil
}

// Filter selects alerts for Query. Zero values match everything.
type Filter struct {
	Severity     string
	Threat       string
	Status       string
	Acknowledged *bool
	Limit        int
}

// Query returns matching alerts newest-first.
func (mg *Manager) Query(f Filter) []Alert {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	out := make([]Alert, 0)
	for i := len(mg.order) - 1; i >= 0; i-- {
		a := mg.alerts[mg.order[i]]
		if a == nil {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Threat != "" && a.Threat != f.Threat {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
			continue
		}
		out = append(out, *a)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Subscribe starts a lossy-under-pressure stream of newly created alerts.
func (mg *Manager) Subscribe() *Subscription {
	return mg.subs.subscribe()
}

// evictOverflow drops the oldest non-new alerts beyond the table bound.
// Caller holds mu.
func (mg *Manager) evictOverflow() {
	if mg.cfg.MaxAlerts <= 0 || len(mg.order) <= mg.cfg.MaxAlerts {
		return
	}
	excess := len(mg.order) - mg.cfg.MaxAlerts

	// First pass removes oldest alerts already triaged.
	kept := mg.order[:0]
	for _, id := range mg.order {
		if excess > 0 && mg.alerts[id].Status != StatusNew {
			delete(mg.alerts, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	// Everything left is new; drop from the oldest end if still over.
	for excess > 0 && len(kept) > 0 {
		delete(mg.alerts, kept[0])
		kept = kept[1:]
		excess--
	}
	mg.order = kept
}

func (mg *Manager) appendLog(a Alert) {
	if mg.logFile == nil {
		return
	}
	data, err := json.Marshal(a)
	if err != nil {
		mg.log.Warn("failed to encode alert for log", "id", a.ID, "error", err)
		return
	}
	if _, err := mg.logFile.Write(append(data, '\n')); err != nil {
		mg.log.Warn("failed to append alert log", "id", a.ID, "error", err)
	}
}

// replayLog rebuilds the table from the append log, keeping the last state
// seen for each id.
func (mg *Manager) replayLog() error {
	f, err := os.Open(mg.cfg.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.KindUnavailable, "failed to read alert log")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines, corrupt := 0, 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a Alert
		if err := json.Unmarshal(line, &a); err != nil {
			corrupt++
			continue
		}
		lines++
		if _, seen := mg.alerts[a.ID]; !seen {
			mg.order = append(mg.order, a.ID)
		}
		cp := a
		mg.alerts[a.ID] = &cp
		if a.ID >= mg.nextID {
			mg.nextID = a.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to scan alert log")
	}
	sort.Slice(mg.order, func(i, j int) bool { return mg.order[i] < mg.order[j] })
	if lines > 0 || corrupt > 0 {
		mg.log.Info("alert log replayed", "alerts", len(mg.alerts), "records", lines, "corrupt", corrupt)
	}
	return nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
