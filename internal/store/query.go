// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/features"
)

// Recent returns the newest records, optionally bounded to those at or after
// since. A zero since means no lower bound.
func (s *Store) Recent(limit int, since time.Time) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	q := selectSQL
	args := []any{}
	if !since.IsZero() {
		q += " WHERE timestamp >= ?"
		args = append(args, wallSeconds(since))
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return s.queryRecords(q, args...)
}

// ByAttack returns the newest records predicted as label.
func (s *Store) ByAttack(label string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRecords(selectSQL+" WHERE label = ? ORDER BY id DESC LIMIT ?", label, limit)
}

// Stats aggregates stored flows over a trailing window.
type Stats struct {
	Total      int64            `json:"total"`
	ByLabel    map[string]int64 `json:"by_label"`
	BySeverity map[string]int64 `json:"by_severity"`
}

// Statistics aggregates the last N hours; hours <= 0 covers everything.
func (s *Store) Statistics(hours int) (Stats, error) {
	st := Stats{ByLabel: make(map[string]int64), BySeverity: make(map[string]int64)}
	where := ""
	args := []any{}
	if hours > 0 {
		where = " WHERE timestamp >= ?"
		args = append(args, wallSeconds(time.Now().Add(-time.Duration(hours)*time.Hour)))
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM flows"+where, args...).Scan(&st.Total); err != nil {
		return Stats{}, errors.Wrap(err, errors.KindUnavailable, "failed to count flows")
	}
	if err := s.groupCount("label", where, args, st.ByLabel); err != nil {
		return Stats{}, err
	}
	if err := s.groupCount("severity", where, args, st.BySeverity); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *Store) groupCount(col, where string, args []any, into map[string]int64) error {
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s, COUNT(*) FROM flows%s GROUP BY %s", col, where, col), args...)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "failed to aggregate flows by %s", col)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "failed to scan aggregate row")
		}
		into[k] = n
	}
	return rows.Err()
}

// ExportFilter selects rows for Export. Zero values match everything.
type ExportFilter struct {
	Label string
	Since time.Time
	Limit int
}

// Export streams matching rows as CSV, oldest first, using the canonical
// feature names as column headers so exports feed straight into training.
func (s *Store) Export(w io.Writer, f ExportFilter) error {
	q := selectSQL
	args := []any{}
	clauses := []string{}
	if f.Label != "" {
		clauses = append(clauses, "label = ?")
		args = append(args, f.Label)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, wallSeconds(f.Since))
	}
	for i, c := range clauses {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	recs, err := s.queryRecords(q, args...)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"timestamp", "src_ip", "src_port", "dst_ip", "dst_port", "protocol"}
	header = append(header, features.Names...)
	header = append(header, "label", "severity", "confidence", "method", "emitted", "ground_truth", "label_verified")
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to write export header")
	}

	row := make([]string, 0, len(header))
	for _, r := range recs {
		row = row[:0]
		row = append(row,
			strconv.FormatFloat(r.Timestamp, 'f', -1, 64),
			r.SrcIP,
			strconv.Itoa(int(r.SrcPort)),
			r.DstIP,
			strconv.Itoa(int(r.DstPort)),
			strconv.Itoa(int(r.Protocol)),
		)
		for _, v := range r.Features {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		row = append(row,
			r.Label,
			r.Severity,
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			r.Method,
			strconv.FormatBool(r.Emitted),
			r.GroundTruth,
			strconv.FormatBool(r.LabelVerified),
		)
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "failed to write export row")
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Store) queryRecords(q string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to query flows")
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	r := Record{Features: make([]float64, features.Count)}
	ptrs := make([]any, 0, len(allColumns)+1)
	ptrs = append(ptrs, &r.ID, &r.Timestamp, &r.SrcIP, &r.SrcPort, &r.DstIP, &r.DstPort, &r.Protocol)
	for i := range r.Features {
		ptrs = append(ptrs, &r.Features[i])
	}
	ptrs = append(ptrs, &r.Label, &r.Severity, &r.Confidence, &r.Method, &r.Emitted, &r.GroundTruth, &r.LabelVerified)
	if err := rows.Scan(ptrs...); err != nil {
		return Record{}, errors.Wrap(err, errors.KindUnavailable, "failed to scan flow row")
	}
	return r, nil
}

func wallSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
