// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package suppress

import (
	"sync"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

const defaultRingSize = 256

// Record is one suppressed detection kept for threshold tuning.
type Record struct {
	Time        time.Time `json:"time"`
	Flow        string    `json:"flow"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	PacketCount int64     `json:"packet_count"`
	Reason      string    `json:"reason"`
	Layer       string    `json:"layer"`
}

// Ring is a fixed-size buffer of the most recent suppressions. Writes never
// fail; the oldest record gives way.
type Ring struct {
	mu    sync.Mutex
	buf   []Record
	next  int
	total uint64
}

// NewRing allocates a ring holding size records.
func NewRing(size int) *Ring {
	return &Ring{buf: make([]Record, 0, size)}
}

func (r *Ring) record(snap flow.Snapshot, pred model.Prediction, d Decision) {
	rec := Record{
		Time:        time.Now(),
		Flow:        snap.Key.String(),
		Label:       pred.Label,
		Confidence:  pred.Confidence,
		PacketCount: snap.PacketCount,
		Reason:      d.Reason,
		Layer:       d.Layer,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, rec)
	} else {
		r.buf[r.next] = rec
	}
	r.next = (r.next + 1) % cap(r.buf)
	r.total++
}

// Snapshot returns the retained records, newest first, plus the count of all
// suppressions ever recorded.
func (r *Ring) Snapshot() ([]Record, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.buf))
	for i := 0; i < len(r.buf); i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out, r.total
}
