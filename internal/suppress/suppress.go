// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package suppress decides which predictions become alerts. The cascade
// short-circuits on the first failing layer and records every suppression
// with its reason for tuning.
package suppress

import (
	"net/netip"
	"strings"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/baseline"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

// Suppression reasons, one per cascade layer.
const (
	ReasonNotAThreat     = "not_a_threat"
	ReasonLowConfidence  = "low_confidence"
	ReasonInsufficient   = "insufficient_traffic"
	ReasonCloudTraffic   = "cloud_traffic"
	ReasonWhitelistedIP  = "whitelisted_ip"
	ReasonPrivateNetwork = "private_network"
	ReasonLegitLowVolume = "legitimate_low_volume"
	ReasonBaselineMatch  = "baseline_match"
)

// Decision is the cascade outcome for one (snapshot, prediction) pair.
type Decision struct {
	Emit   bool
	Reason string
	Layer  string
}

func emit() Decision { return Decision{Emit: true} }

func suppress(layer, reason string) Decision {
	return Decision{Reason: reason, Layer: layer}
}

// Config selects and tunes the active layers.
type Config struct {
	// "pure_ml" applies only the threat-class layer.
	Mode string

	ConfidenceThreshold           float64
	MinPacketThreshold            int64
	FilterLocalhost               bool
	FilterPrivateNetworks         bool
	WhitelistPorts                []int
	WhitelistPrefixes             []netip.Prefix
	CloudPrefixes                 []string
	IgnoredAttackTypes            []string
	LegitimatePortPacketThreshold int64
}

// Suppressor applies the filter cascade. Stateless apart from the adaptive
// baseline and the debug ring.
type Suppressor struct {
	cfg      Config
	ignored  map[string]struct{}
	ports    map[int]struct{}
	baseline *baseline.Baseline
	ring     *Ring
	m        *metrics.Metrics
}

// New builds a suppressor around a baseline learner.
func New(cfg Config, bl *baseline.Baseline, m *metrics.Metrics) *Suppressor {
	ignored := make(map[string]struct{}, len(cfg.IgnoredAttackTypes))
	for _, l := range cfg.IgnoredAttackTypes {
		ignored[l] = struct{}{}
	}
	ports := make(map[int]struct{}, len(cfg.WhitelistPorts))
	for _, p := range cfg.WhitelistPorts {
		ports[p] = struct{}{}
	}
	return &Suppressor{
		cfg:      cfg,
		ignored:  ignored,
		ports:    ports,
		baseline: bl,
		ring:     NewRing(defaultRingSize),
		m:        m,
	}
}

// Ring exposes the suppression debug ring.
func (s *Suppressor) Ring() *Ring { return s.ring }

// Evaluate runs the cascade. Flows that reach the baseline layer are also
// observed by the learner while its window is open.
func (s *Suppressor) Evaluate(snap flow.Snapshot, pred model.Prediction) Decision {
	d := s.evaluate(snap, pred)
	if !d.Emit {
		s.m.Suppressions.WithLabelValues(d.Reason).Inc()
		s.ring.record(snap, pred, d)
	}
	return d
}

func (s *Suppressor) evaluate(snap flow.Snapshot, pred model.Prediction) Decision {
	// Layer 1: threat class.
	if pred.IsBenign() {
		return suppress("1", ReasonNotAThreat)
	}
	if _, ok := s.ignored[pred.Label]; ok {
		return suppress("1", ReasonNotAThreat)
	}
	if s.cfg.Mode == "pure_ml" {
		return emit()
	}

	// Layer 2: confidence. Exact equality passes.
	if pred.Confidence < s.cfg.ConfidenceThreshold {
		return suppress("2", ReasonLowConfidence)
	}

	// Layer 3: traffic volume.
	if snap.PacketCount < s.cfg.MinPacketThreshold {
		return suppress("3", ReasonInsufficient)
	}

	// Layer 4: cloud-provider prefixes, matched against dotted-decimal text.
	if s.matchesCloud(snap.Key.SrcIP) || s.matchesCloud(snap.Key.DstIP) {
		return suppress("4", ReasonCloudTraffic)
	}

	// Layer 4.5: explicit CIDR whitelist.
	if s.whitelisted(snap.Key.SrcIP) || s.whitelisted(snap.Key.DstIP) {
		return suppress("4.5", ReasonWhitelistedIP)
	}

	// Layer 5: purely internal traffic.
	if s.cfg.FilterPrivateNetworks && !isPublic(snap.Key.SrcIP) && !isPublic(snap.Key.DstIP) {
		return suppress("5", ReasonPrivateNetwork)
	}
	if s.cfg.FilterLocalhost && snap.Key.SrcIP.IsLoopback() && snap.Key.DstIP.IsLoopback() {
		return suppress("5", ReasonPrivateNetwork)
	}

	// Layer 6: modest traffic to a known service port.
	if _, ok := s.ports[int(snap.Key.DstPort)]; ok && snap.PacketCount < s.cfg.LegitimatePortPacketThreshold {
		return suppress("6", ReasonLegitLowVolume)
	}

	// Layer 7: adaptive baseline.
	fp := baseline.FingerprintFor(snap)
	s.baseline.Observe(fp)
	if s.baseline.Match(fp) {
		return suppress("7", ReasonBaselineMatch)
	}

	return emit()
}

func (s *Suppressor) matchesCloud(ip netip.Addr) bool {
	if len(s.cfg.CloudPrefixes) == 0 {
		return false
	}
	text := ip.String()
	for _, prefix := range s.cfg.CloudPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

func (s *Suppressor) whitelisted(ip netip.Addr) bool {
	for _, p := range s.cfg.WhitelistPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// isPublic reports whether an address is routable beyond the local network.
func isPublic(ip netip.Addr) bool {
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified())
}
