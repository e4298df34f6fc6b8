// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store persists every scored flow for later training. Writes are
// decoupled from the scoring hot path by a bounded queue; storage trouble
// degrades to bypass mode instead of stalling detection.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/features"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

// Record is one scored flow row.
type Record struct {
	ID        int64   `json:"id"`
	Timestamp float64 `json:"timestamp"` // wall seconds since epoch

	SrcIP    string `json:"src_ip"`
	SrcPort  uint16 `json:"src_port"`
	DstIP    string `json:"dst_ip"`
	DstPort  uint16 `json:"dst_port"`
	Protocol uint8  `json:"protocol"`

	Features []float64 `json:"features"` // canonical order

	Label      string  `json:"label"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Emitted    bool    `json:"emitted"`

	GroundTruth   string `json:"ground_truth,omitempty"`
	LabelVerified bool   `json:"label_verified"`
}

// Config tunes persistence.
type Config struct {
	Type      string // sqlite or postgresql
	Directory string
	URL       string

	RetentionDays int // 0 disables sweeping

	SaveBenignFlows     bool
	SaveAttackFlows     bool
	MinConfidenceToSave float64

	// QueueSize bounds pending writes; overflow drops the newest record.
	QueueSize int
	// FailureThreshold is the consecutive write failures before bypass.
	FailureThreshold int
}

const (
	defaultQueueSize        = 10000
	defaultFailureThreshold = 5
	sweepInterval           = time.Hour
	dbFileName              = "flows.db"
)

// Store owns the flows table. A single writer goroutine consumes the queue;
// queries run directly against the database.
type Store struct {
	db  *sql.DB
	cfg Config
	log *logging.Logger
	m   *metrics.Metrics

	// onBypass fires once when the store gives up on storage.
	onBypass func()

	queue    chan Record
	bypass   atomic.Bool
	failures int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	sweepWG  sync.WaitGroup
}

// Open creates the database, starts the writer and the retention sweeper.
// onBypass may be nil.
func Open(cfg Config, m *metrics.Metrics, onBypass func()) (*Store, error) {
	if cfg.Type != "sqlite" {
		return nil, errors.Errorf(errors.KindUnavailable, "database type %q is not supported yet", cfg.Type)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if onBypass == nil {
		onBypass = func() {}
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to create database directory")
	}
	path := filepath.Join(cfg.Directory, dbFileName)
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open flow database")
	}

	s := &Store{
		db:       db,
		cfg:      cfg,
		log:      logging.WithComponent("store"),
		m:        m,
		onBypass: onBypass,
		queue:    make(chan Record, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to init flow schema")
	}

	go s.writer()
	if cfg.RetentionDays > 0 {
		s.sweepWG.Add(1)
		go s.sweeper()
	}
	s.log.Info("flow store opened", "path", path, "retention_days", cfg.RetentionDays)
	return s, nil
}

// Available reports whether the store is accepting and persisting records.
func (s *Store) Available() bool { return !s.bypass.Load() }

// Enqueue offers a record to the writer. Filters apply here; overflow and
// bypass both discard without blocking.
func (s *Store) Enqueue(r Record) {
	if s.bypass.Load() {
		s.m.StoreDropped.Inc()
		return
	}
	benign := r.Label == model.BenignLabel
	if benign && !s.cfg.SaveBenignFlows {
		return
	}
	if !benign && !s.cfg.SaveAttackFlows {
		return
	}
	if r.Confidence < s.cfg.MinConfidenceToSave {
		return
	}

	select {
	case s.queue <- r:
	default:
		s.m.StoreDropped.Inc()
	}
}

// Close drains pending writes until ctx expires, then releases the database.
func (s *Store) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
	case <-ctx.Done():
		dropped := len(s.queue)
		if dropped > 0 {
			s.m.ShutdownDropped.Add(float64(dropped))
			s.log.Warn("shutdown deadline reached with pending flow writes", "dropped", dropped)
		}
	}
	s.sweepWG.Wait()
	return s.db.Close()
}

func (s *Store) writer() {
	defer close(s.doneCh)
	for {
		select {
		case r := <-s.queue:
			s.write(r)
		case <-s.stopCh:
			for {
				select {
				case r := <-s.queue:
					s.write(r)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(r Record) {
	if s.bypass.Load() {
		s.m.StoreDropped.Inc()
		return
	}
	if _, err := s.db.Exec(insertSQL, insertArgs(r)...); err != nil {
		s.m.StoreFailures.Inc()
		s.failures++
		s.log.Warn("flow write failed", "error", err, "consecutive", s.failures)
		if s.failures >= s.cfg.FailureThreshold {
			s.bypass.Store(true)
			s.m.StoreBypass.Set(1)
			s.log.Error("flow store entering bypass mode", "consecutive_failures", s.failures)
			s.onBypass()
		}
		return
	}
	s.failures = 0
	s.m.StoreWrites.Inc()
}

func (s *Store) sweeper() {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) sweep() {
	cutoff := float64(time.Now().Add(-time.Duration(s.cfg.RetentionDays)*24*time.Hour).UnixNano()) / float64(time.Second)
	res, err := s.db.Exec(`DELETE FROM flows WHERE timestamp < ?`, cutoff)
	if err != nil {
		s.log.Warn("retention sweep failed", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info("retention sweep removed rows", "rows", n, "retention_days", s.cfg.RetentionDays)
	}
}

// columnName maps a canonical feature name to a SQL column. The f_ prefix
// sidesteps keyword collisions (Min, Max, AVG).
func columnName(feature string) string {
	return "f_" + strings.ReplaceAll(strings.ToLower(feature), " ", "_")
}

var (
	featureColumns = func() []string {
		cols := make([]string, len(features.Names))
		for i, n := range features.Names {
			cols[i] = columnName(n)
		}
		return cols
	}()

	baseColumns = []string{
		"timestamp", "src_ip", "src_port", "dst_ip", "dst_port", "protocol",
	}
	tailColumns = []string{
		"label", "severity", "confidence", "method", "emitted", "ground_truth", "label_verified",
	}

	allColumns = func() []string {
		out := append([]string{}, baseColumns...)
		out = append(out, featureColumns...)
		return append(out, tailColumns...)
	}()

	insertSQL = "INSERT INTO flows (" + strings.Join(allColumns, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(allColumns)), ", ") + ")"

	selectSQL = "SELECT id, " + strings.Join(allColumns, ", ") + " FROM flows"
)

func insertArgs(r Record) []any {
	args := make([]any, 0, len(allColumns))
	args = append(args, r.Timestamp, r.SrcIP, r.SrcPort, r.DstIP, r.DstPort, r.Protocol)
	for i := 0; i < features.Count; i++ {
		if i < len(r.Features) {
			args = append(args, r.Features[i])
		} else {
			args = append(args, 0.0)
		}
	}
	return append(args, r.Label, r.Severity, r.Confidence, r.Method, r.Emitted, r.GroundTruth, r.LabelVerified)
}

func (s *Store) initSchema() error {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS flows (\n")
	b.WriteString("\tid INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	b.WriteString("\ttimestamp REAL NOT NULL,\n")
	b.WriteString("\tsrc_ip TEXT NOT NULL,\n")
	b.WriteString("\tsrc_port INTEGER NOT NULL,\n")
	b.WriteString("\tdst_ip TEXT NOT NULL,\n")
	b.WriteString("\tdst_port INTEGER NOT NULL,\n")
	b.WriteString("\tprotocol INTEGER NOT NULL,\n")
	for _, col := range featureColumns {
		b.WriteString("\t" + col + " REAL NOT NULL DEFAULT 0,\n")
	}
	b.WriteString(`	label TEXT NOT NULL,
	severity TEXT NOT NULL,
	confidence REAL NOT NULL,
	method TEXT NOT NULL,
	emitted INTEGER NOT NULL DEFAULT 0,
	ground_truth TEXT NOT NULL DEFAULT '',
	label_verified INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_flows_time_label ON flows(timestamp, label);
CREATE INDEX IF NOT EXISTS idx_flows_endpoints ON flows(src_ip, dst_ip);
CREATE INDEX IF NOT EXISTS idx_flows_label ON flows(label);
`)
	_, err := s.db.Exec(b.String())
	return err
}
