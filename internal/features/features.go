// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package features computes the fixed 37-column vector the classifiers were
// trained on. Column order and semantics must stay bit-identical to the
// training schema; reordering silently corrupts every prediction.
package features

import (
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
)

// Count is the dimensionality of the feature vector.
const Count = 37

// Names lists the canonical columns in extraction order. Mixed naming is
// inherited from the training dataset and must not be normalized.
var Names = []string{
	"flow_duration",
	"Header_Length",
	"Protocol Type",
	"Duration",
	"Rate",
	"Drate",
	"fin_flag_number",
	"syn_flag_number",
	"psh_flag_number",
	"ack_flag_number",
	"ece_flag_number",
	"cwr_flag_number",
	"syn_count",
	"fin_count",
	"urg_count",
	"rst_count",
	"HTTP",
	"HTTPS",
	"DNS",
	"Telnet",
	"SMTP",
	"SSH",
	"IRC",
	"TCP",
	"UDP",
	"DHCP",
	"ARP",
	"ICMP",
	"IPv",
	"Tot sum",
	"Min",
	"Max",
	"AVG",
	"Tot size",
	"IAT",
	"Covariance",
	"Variance",
}

// epsilon guards divisions on zero-duration flows.
const epsilon = 1e-6

// Extract computes the feature vector for a flow snapshot. It is a pure
// function: the same snapshot always yields the same vector.
func Extract(s flow.Snapshot) []float64 {
	v := make([]float64, Count)
	n := float64(s.PacketCount)
	dur := s.DurationSeconds()

	v[0] = dur
	v[1] = float64(s.HeaderTotal)
	v[2] = protocolType(s.Key.Protocol)
	v[3] = float64(s.MinTTL)
	v[4] = n / max(dur, epsilon)
	v[5] = float64(s.DstPackets) / max(dur, epsilon)

	v[6] = indicator(s.FinCount > 0)
	v[7] = indicator(s.SynCount > 0)
	v[8] = indicator(s.PshCount > 0)
	v[9] = indicator(s.AckCount > 0)
	v[10] = indicator(s.EceCount > 0)
	v[11] = indicator(s.CwrCount > 0)

	v[12] = float64(s.SynCount)
	v[13] = float64(s.FinCount)
	v[14] = float64(s.UrgCount)
	v[15] = float64(s.RstCount)

	v[16] = indicator(s.HTTP)
	v[17] = indicator(s.HTTPS)
	v[18] = indicator(s.DNS)
	v[19] = indicator(s.Telnet)
	v[20] = indicator(s.SMTP)
	v[21] = indicator(s.SSH)
	v[22] = indicator(s.IRC)

	v[23] = indicator(s.TCP)
	v[24] = indicator(s.UDP)
	v[25] = indicator(s.DHCP)
	v[26] = indicator(s.ARP)
	v[27] = indicator(s.ICMP)
	v[28] = indicator(s.IPv4)

	v[29] = float64(s.ByteTotal)
	v[30] = float64(s.MinSize)
	v[31] = float64(s.MaxSize)
	if s.PacketCount > 0 {
		v[32] = float64(s.ByteTotal) / n
	}
	v[33] = float64(s.PayloadTotal)

	if len(s.Packets) >= 2 {
		v[34] = meanIAT(s.Packets)
		v[35] = sizeGapCovariance(s.Packets)
		v[36] = sizeVariance(s.Packets)
	}

	return v
}

func protocolType(proto uint8) float64 {
	switch proto {
	case 6, 17, 1:
		return float64(proto)
	default:
		return 0
	}
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func meanIAT(pkts []flow.PacketSummary) float64 {
	last, first := pkts[len(pkts)-1].Monotonic, pkts[0].Monotonic
	return (last - first).Seconds() / float64(len(pkts)-1)
}

// sizeGapCovariance is the population covariance between each packet's size
// and the gap since its predecessor, over packets 2..n.
func sizeGapCovariance(pkts []flow.PacketSummary) float64 {
	n := float64(len(pkts) - 1)
	var sumSize, sumGap float64
	for i := 1; i < len(pkts); i++ {
		sumSize += float64(pkts[i].Length)
		sumGap += (pkts[i].Monotonic - pkts[i-1].Monotonic).Seconds()
	}
	meanSize, meanGap := sumSize/n, sumGap/n

	var cov float64
	for i := 1; i < len(pkts); i++ {
		gap := (pkts[i].Monotonic - pkts[i-1].Monotonic).Seconds()
		cov += (float64(pkts[i].Length) - meanSize) * (gap - meanGap)
	}
	return cov / n
}

// sizeVariance is the population variance of packet sizes.
func sizeVariance(pkts []flow.PacketSummary) float64 {
	n := float64(len(pkts))
	var sum float64
	for _, p := range pkts {
		sum += float64(p.Length)
	}
	mean := sum / n

	var vv float64
	for _, p := range pkts {
		d := float64(p.Length) - mean
		vv += d * d
	}
	return vv / n
}
