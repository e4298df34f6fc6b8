// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package stats maintains rolling alert counters over hour, day, week, and
// all-time windows.
package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/clock"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
)

// Window names accepted by Snapshot.
const (
	WindowHour = "hour"
	WindowDay  = "day"
	WindowWeek = "week"
	WindowAll  = "all"
)

// TopK is how many threat labels and source IPs each window retains.
const TopK = 20

const (
	saveInterval = time.Minute
	maxEvents    = 100000
)

// NameCount is one top-K entry.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// WindowStats is the query result for one window.
type WindowStats struct {
	Window        string           `json:"window"`
	Total         int64            `json:"total"`
	BySeverity    map[string]int64 `json:"by_severity"`
	TopThreats    []NameCount      `json:"top_threats"`
	TopSources    []NameCount      `json:"top_sources"`
	UptimeSeconds float64          `json:"uptime_seconds"`
}

type event struct {
	Time     time.Time `json:"time"`
	Threat   string    `json:"threat"`
	Severity string    `json:"severity"`
	SrcIP    string    `json:"src_ip"`
}

// Tracker is the single writer for alert statistics. It keeps a week of
// individual events for the rolling windows and cumulative counters for
// all-time.
type Tracker struct {
	clk       clock.Clock
	log       *logging.Logger
	statePath string

	mu         sync.Mutex
	start      time.Time
	events     []event
	allTotal   int64
	allBySev   map[string]int64
	allThreats *spaceSaver
	allSrcs    *spaceSaver

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a tracker, loading a persisted snapshot when present.
// statePath may be empty to disable persistence.
func New(statePath string, clk clock.Clock) *Tracker {
	t := &Tracker{
		clk:        clk,
		log:        logging.WithComponent("stats"),
		statePath:  statePath,
		start:      clk.Now(),
		allBySev:   make(map[string]int64),
		allThreats: newSpaceSaver(TopK * 10),
		allSrcs:    newSpaceSaver(TopK * 10),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	t.load()
	return t
}

// Start begins the periodic persistence loop.
func (t *Tracker) Start() {
	go func() {
		defer close(t.doneCh)
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.Save(); err != nil {
					t.log.Warn("failed to persist statistics", "error", err)
				}
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Stop halts persistence after a final save.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
	if err := t.Save(); err != nil {
		t.log.Warn("failed to persist statistics at shutdown", "error", err)
	}
}

// RecordAlert folds one emitted alert into every window.
func (t *Tracker) RecordAlert(a alert.Alert) {
	now := t.clk.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, event{Time: now, Threat: a.Threat, Severity: a.Severity, SrcIP: a.SrcIP})
	t.prune(now)

	t.allTotal++
	t.allBySev[a.Severity]++
	t.allThreats.add(a.Threat)
	t.allSrcs.add(a.SrcIP)
}

// Snapshot returns the current counters for one window.
func (t *Tracker) Snapshot(window string) (WindowStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	t.prune(now)
	uptime := now.Sub(t.start).Seconds()

	switch window {
	case WindowAll:
		return WindowStats{
			Window:        window,
			Total:         t.allTotal,
			BySeverity:    copyMap(t.allBySev),
			TopThreats:    t.allThreats.top(TopK),
			TopSources:    t.allSrcs.top(TopK),
			UptimeSeconds: uptime,
		}, nil
	case WindowHour, WindowDay, WindowWeek:
		cutoff := now.Add(-windowSpan(window))
		st := WindowStats{Window: window, BySeverity: make(map[string]int64), UptimeSeconds: uptime}
		threats := newSpaceSaver(TopK * 10)
		srcs := newSpaceSaver(TopK * 10)
		for _, e := range t.events {
			if e.Time.Before(cutoff) {
				continue
			}
			st.Total++
			st.BySeverity[e.Severity]++
			threats.add(e.Threat)
			srcs.add(e.SrcIP)
		}
		st.TopThreats = threats.top(TopK)
		st.TopSources = srcs.top(TopK)
		return st, nil
	default:
		return WindowStats{}, errors.Errorf(errors.KindValidation, "unknown statistics window %q", window)
	}
}

func windowSpan(window string) time.Duration {
	switch window {
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// prune drops events older than the longest rolling window. Caller holds mu.
func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-windowSpan(WindowWeek))
	i := 0
	for ; i < len(t.events); i++ {
		if !t.events[i].Time.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
	if len(t.events) > maxEvents {
		t.events = append(t.events[:0], t.events[len(t.events)-maxEvents:]...)
	}
}

type persisted struct {
	Start      time.Time        `json:"start"`
	Events     []event          `json:"events"`
	AllTotal   int64            `json:"all_total"`
	AllBySev   map[string]int64 `json:"all_by_severity"`
	AllThreats map[string]int64 `json:"all_threats"`
	AllSrcs    map[string]int64 `json:"all_sources"`
}

// Save writes the tracker state as JSON.
func (t *Tracker) Save() error {
	if t.statePath == "" {
		return nil
	}
	t.mu.Lock()
	p := persisted{
		Start:      t.start,
		Events:     append([]event(nil), t.events...),
		AllTotal:   t.allTotal,
		AllBySev:   copyMap(t.allBySev),
		AllThreats: t.allThreats.snapshot(),
		AllSrcs:    t.allSrcs.snapshot(),
	}
	t.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode statistics")
	}
	if err := os.MkdirAll(filepath.Dir(t.statePath), 0o755); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to create statistics dir")
	}
	tmp := t.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to write statistics")
	}
	return os.Rename(tmp, t.statePath)
}

func (t *Tracker) load() {
	if t.statePath == "" {
		return
	}
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		return
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		t.log.Warn("discarding corrupt statistics snapshot", "path", t.statePath, "error", err)
		return
	}
	if !p.Start.IsZero() {
		t.start = p.Start
	}
	t.events = p.Events
	t.allTotal = p.AllTotal
	if p.AllBySev != nil {
		t.allBySev = p.AllBySev
	}
	t.allThreats.restore(p.AllThreats)
	t.allSrcs.restore(p.AllSrcs)
	t.log.Info("statistics restored", "events", len(t.events), "all_time_total", t.allTotal)
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// spaceSaver is a bounded frequency counter: exact while under capacity,
// space-saving approximation beyond it.
type spaceSaver struct {
	cap    int
	counts map[string]int64
}

func newSpaceSaver(cap int) *spaceSaver {
	return &spaceSaver{cap: cap, counts: make(map[string]int64)}
}

func (s *spaceSaver) add(key string) {
	if _, ok := s.counts[key]; ok {
		s.counts[key]++
		return
	}
	if len(s.counts) < s.cap {
		s.counts[key] = 1
		return
	}
	// Replace the current minimum, inheriting its count.
	minKey, minCount := "", int64(-1)
	for k, v := range s.counts {
		if minCount < 0 || v < minCount {
			minKey, minCount = k, v
		}
	}
	delete(s.counts, minKey)
	s.counts[key] = minCount + 1
}

func (s *spaceSaver) top(k int) []NameCount {
	out := make([]NameCount, 0, len(s.counts))
	for name, n := range s.counts {
		out = append(out, NameCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (s *spaceSaver) snapshot() map[string]int64 {
	return copyMap(s.counts)
}

func (s *spaceSaver) restore(m map[string]int64) {
	if m == nil {
		return
	}
	s.counts = m
}
