// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package baseline learns the fingerprints of normal traffic during a
// startup window, then vouches for flows matching a learned fingerprint.
package baseline

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/clock"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
)

// Fingerprint abstracts a flow into coarse traffic shape. Rate and size use
// base-2 logarithmic buckets so small timing jitter maps to the same bucket.
type Fingerprint struct {
	Protocol   uint8  `json:"protocol"`
	DstPort    uint16 `json:"dst_port"`
	RateBucket int    `json:"rate_bucket"`
	SizeBucket int    `json:"size_bucket"`
}

// FingerprintFor buckets a flow snapshot.
func FingerprintFor(s flow.Snapshot) Fingerprint {
	rate := float64(s.PacketCount) / math.Max(s.DurationSeconds(), 1e-6)
	avgSize := 0.0
	if s.PacketCount > 0 {
		avgSize = float64(s.ByteTotal) / float64(s.PacketCount)
	}
	return Fingerprint{
		Protocol:   s.Key.Protocol,
		DstPort:    s.Key.DstPort,
		RateBucket: log2Bucket(rate),
		SizeBucket: log2Bucket(avgSize),
	}
}

func log2Bucket(v float64) int {
	if v < 0 {
		v = 0
	}
	return int(math.Floor(math.Log2(v + 1)))
}

// Config tunes the learner.
type Config struct {
	Enabled        bool
	LearningPeriod time.Duration
	MinOccurrences int
	// StatePath persists learning progress across restarts. Capture gaps
	// do not extend the window: only elapsed process time counts.
	StatePath string
}

// Baseline is single-writer during learning; after the window closes the
// fingerprint set is handed off immutably and matching is lock-free.
type Baseline struct {
	cfg Config
	log *logging.Logger
	clk clock.Clock

	mu        sync.Mutex
	counts    map[Fingerprint]int
	elapsed   time.Duration // learning time consumed by earlier runs
	resumedAt time.Time
	finalized bool

	learned atomic.Pointer[map[Fingerprint]struct{}]
}

// New builds the learner, resuming from persisted state when present.
func New(cfg Config, clk clock.Clock) (*Baseline, error) {
	b := &Baseline{
		cfg:    cfg,
		log:    logging.WithComponent("baseline"),
		clk:    clk,
		counts: make(map[Fingerprint]int),
	}
	if !cfg.Enabled {
		return b, nil
	}

	if err := b.loadState(); err != nil {
		return nil, err
	}
	b.resumedAt = clk.Now()
	if b.elapsed >= cfg.LearningPeriod {
		b.finalize()
	} else {
		b.log.Info("learning normal traffic",
			"remaining", (cfg.LearningPeriod - b.elapsed).Round(time.Second),
			"known_fingerprints", len(b.counts))
	}
	return b, nil
}

// Learning reports whether the window is still open.
func (b *Baseline) Learning() bool {
	if !b.cfg.Enabled {
		return false
	}
	return b.learned.Load() == nil
}

// Observe records a fingerprint during the learning window. Closes the
// window once the period has elapsed.
func (b *Baseline) Observe(fp Fingerprint) {
	if !b.cfg.Enabled || b.learned.Load() != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return
	}
	if b.elapsed+b.clk.Since(b.resumedAt) >= b.cfg.LearningPeriod {
		b.finalize()
		return
	}
	b.counts[fp]++
}

// Match reports whether a fingerprint was learned as normal. Always false
// while learning.
func (b *Baseline) Match(fp Fingerprint) bool {
	m := b.learned.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[fp]
	return ok
}

// finalize promotes qualifying fingerprints into the immutable match set.
// Caller holds mu (or is the constructor).
func (b *Baseline) finalize() {
	set := make(map[Fingerprint]struct{})
	for fp, n := range b.counts {
		if n >= b.cfg.MinOccurrences {
			set[fp] = struct{}{}
		}
	}
	b.finalized = true
	b.learned.Store(&set)
	b.log.Info("learning complete", "fingerprints", len(set), "observed", len(b.counts))
}

// Stats describes the learner for debugging surfaces.
type Stats struct {
	Enabled      bool          `json:"enabled"`
	Learning     bool          `json:"learning"`
	Remaining    time.Duration `json:"remaining"`
	Observed     int           `json:"observed"`
	Fingerprints int           `json:"fingerprints"`
}

// Snapshot returns current learner state.
func (b *Baseline) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{Enabled: b.cfg.Enabled, Learning: b.Learning(), Observed: len(b.counts)}
	if s.Learning {
		s.Remaining = b.cfg.LearningPeriod - b.elapsed - b.clk.Since(b.resumedAt)
		if s.Remaining < 0 {
			s.Remaining = 0
		}
	}
	if m := b.learned.Load(); m != nil {
		s.Fingerprints = len(*m)
	}
	return s
}

type persistedState struct {
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Finalized      bool           `json:"finalized"`
	Entries        []persistedFPs `json:"entries"`
}

type persistedFPs struct {
	Fingerprint
	Count int `json:"count"`
}

// Save writes learning progress so a restart resumes rather than relearning.
func (b *Baseline) Save() error {
	if !b.cfg.Enabled || b.cfg.StatePath == "" {
		return nil
	}
	b.mu.Lock()
	st := persistedState{
		ElapsedSeconds: (b.elapsed + b.clk.Since(b.resumedAt)).Seconds(),
		Finalized:      b.finalized,
		Entries:        make([]persistedFPs, 0, len(b.counts)),
	}
	if b.finalized {
		st.ElapsedSeconds = b.cfg.LearningPeriod.Seconds()
	}
	for fp, n := range b.counts {
		st.Entries = append(st.Entries, persistedFPs{Fingerprint: fp, Count: n})
	}
	b.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode baseline state")
	}
	if err := os.MkdirAll(filepath.Dir(b.cfg.StatePath), 0o755); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to create baseline state dir")
	}
	tmp := b.cfg.StatePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to write baseline state")
	}
	return os.Rename(tmp, b.cfg.StatePath)
}

func (b *Baseline) loadState() error {
	if b.cfg.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(b.cfg.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.KindUnavailable, "failed to read baseline state")
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		b.log.Warn("discarding corrupt baseline state", "path", b.cfg.StatePath, "error", err)
		return nil
	}
	b.elapsed = time.Duration(st.ElapsedSeconds * float64(time.Second))
	for _, e := range st.Entries {
		b.counts[e.Fingerprint] = e.Count
	}
	if st.Finalized {
		b.elapsed = b.cfg.LearningPeriod
	}
	return nil
}
