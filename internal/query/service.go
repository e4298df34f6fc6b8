// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package query is the read surface over the running detector: alerts, live
// and stored flows, statistics, and the suppression debug ring. The API layer
// talks only to this package, never to the pipeline internals.
package query

import (
	"io"
	"sort"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/device"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/stats"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/store"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/suppress"
)

// FlowView is the external shape of one active flow.
type FlowView struct {
	Key         string    `json:"key"`
	SrcIP       string    `json:"src_ip"`
	SrcPort     uint16    `json:"src_port"`
	DstIP       string    `json:"dst_ip"`
	DstPort     uint16    `json:"dst_port"`
	Protocol    uint8     `json:"protocol"`
	PacketCount int64     `json:"packet_count"`
	Bytes       int64     `json:"bytes"`
	FirstSeen   time.Time `json:"first_seen"`
}

// SuppressionView wraps the ring snapshot with its lifetime total.
type SuppressionView struct {
	Total   uint64            `json:"total"`
	Recent  []suppress.Record `json:"recent"`
	Dropped uint64            `json:"dropped"`
}

// Service composes the queryable pieces of the detector. Any field may be nil
// when the corresponding subsystem is disabled; the matching operations then
// return KindUnavailable.
type Service struct {
	Alerts  *alert.Manager
	Flows   *flow.Aggregator
	Store   *store.Store
	Stats   *stats.Tracker
	Ring    *suppress.Ring
	Devices *device.Tracker
}

// ListAlerts returns matching alerts newest-first.
func (s *Service) ListAlerts(f alert.Filter) []alert.Alert {
	return s.Alerts.Query(f)
}

// Alert returns one alert by ID.
func (s *Service) Alert(id int64) (alert.Alert, error) {
	return s.Alerts.Get(id)
}

// Acknowledge marks an alert as seen by user.
func (s *Service) Acknowledge(id int64, user, notes string) (alert.Alert, error) {
	return s.Alerts.Acknowledge(id, user, notes)
}

// SetStatus moves an alert through its triage lifecycle.
func (s *Service) SetStatus(id int64, status, notes string) (alert.Alert, error) {
	return s.Alerts.SetStatus(id, status, notes)
}

// SubscribeAlerts attaches a live alert stream.
func (s *Service) SubscribeAlerts() *alert.Subscription {
	return s.Alerts.Subscribe()
}

// ActiveFlows returns up to limit live flows, heaviest first.
func (s *Service) ActiveFlows(limit int) []FlowView {
	if limit <= 0 {
		limit = 100
	}
	infos := s.Flows.Snapshot()
	sort.Slice(infos, func(i, j int) bool { return infos[i].PacketCount > infos[j].PacketCount })
	if len(infos) > limit {
		infos = infos[:limit]
	}
	out := make([]FlowView, len(infos))
	for i, in := range infos {
		out[i] = FlowView{
			Key:         in.Key.String(),
			SrcIP:       in.Key.SrcIP.String(),
			SrcPort:     in.Key.SrcPort,
			DstIP:       in.Key.DstIP.String(),
			DstPort:     in.Key.DstPort,
			Protocol:    in.Key.Protocol,
			PacketCount: in.PacketCount,
			Bytes:       in.Bytes,
			FirstSeen:   in.FirstWall,
		}
	}
	return out
}

// StoredFlows returns the newest persisted flow records.
func (s *Service) StoredFlows(limit int, since time.Time) ([]store.Record, error) {
	if err := s.storeReady(); err != nil {
		return nil, err
	}
	return s.Store.Recent(limit, since)
}

// FlowsByAttack returns persisted flows predicted as label.
func (s *Service) FlowsByAttack(label string, limit int) ([]store.Record, error) {
	if err := s.storeReady(); err != nil {
		return nil, err
	}
	return s.Store.ByAttack(label, limit)
}

// FlowStatistics aggregates the persisted flows over the last N hours.
func (s *Service) FlowStatistics(hours int) (store.Stats, error) {
	if err := s.storeReady(); err != nil {
		return store.Stats{}, err
	}
	return s.Store.Statistics(hours)
}

// ExportFlows streams persisted flows as CSV.
func (s *Service) ExportFlows(w io.Writer, f store.ExportFilter) error {
	if err := s.storeReady(); err != nil {
		return err
	}
	return s.Store.Export(w, f)
}

// Statistics returns alert counters for one window (hour, day, week, all).
func (s *Service) Statistics(window string) (stats.WindowStats, error) {
	return s.Stats.Snapshot(window)
}

// Suppressions returns the recent suppression ring, newest first.
func (s *Service) Suppressions() SuppressionView {
	if s.Ring == nil {
		return SuppressionView{}
	}
	recent, total := s.Ring.Snapshot()
	dropped := total - uint64(len(recent))
	return SuppressionView{Total: total, Recent: recent, Dropped: dropped}
}

// ListDevices returns every profiled device, oldest first.
func (s *Service) ListDevices() ([]device.Device, error) {
	if s.Devices == nil {
		return nil, errors.New(errors.KindUnavailable, "device tracking is disabled")
	}
	return s.Devices.Snapshot(), nil
}

// DeviceSummary aggregates the device tracker.
func (s *Service) DeviceSummary() (device.Summary, error) {
	if s.Devices == nil {
		return device.Summary{}, errors.New(errors.KindUnavailable, "device tracking is disabled")
	}
	return s.Devices.Summarize(), nil
}

func (s *Service) storeReady() error {
	if s.Store == nil {
		return errors.New(errors.KindUnavailable, "flow storage is disabled")
	}
	if !s.Store.Available() {
		return errors.New(errors.KindUnavailable, "flow storage is in bypass mode")
	}
	return nil
}
