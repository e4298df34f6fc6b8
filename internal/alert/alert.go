// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package alert owns the alert lifecycle: monotonic IDs, deduplication,
// acknowledgement state, durability, and subscriber fan-out.
package alert

import (
	"time"
)

// Status values an alert moves through.
const (
	StatusNew           = "new"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusFalsePositive = "false_positive"
)

// ValidStatus reports whether s names a known status.
func ValidStatus(s string) bool {
	switch s {
	case StatusNew, StatusInvestigating, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// terminal statuses absorb automatic transitions; only an explicit operator
// SetStatus reopens them.
func terminal(s string) bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Alert is one detected threat. The JSON shape doubles as the append-log
// record and the subscription wire format.
type Alert struct {
	ID        int64   `json:"id"`
	Timestamp float64 `json:"timestamp"` // wall seconds since epoch

	SrcIP    string `json:"src_ip"`
	DstIP    string `json:"dst_ip"`
	SrcPort  uint16 `json:"src_port"`
	DstPort  uint16 `json:"dst_port"`
	Protocol uint8  `json:"protocol"`

	Threat     string  `json:"threat"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context"`

	PacketCount int64   `json:"packet_count"`
	LastUpdated float64 `json:"last_updated"`

	Acknowledged bool    `json:"acknowledged"`
	AckUser      string  `json:"ack_user"`
	AckTime      float64 `json:"ack_time"`
	Status       string  `json:"status"`
	Notes        string  `json:"notes"`
}

func wallSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
