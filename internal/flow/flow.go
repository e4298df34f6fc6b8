// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"math"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/capture"
)

// PacketSummary is the per-packet residue a flow retains for statistics.
// Payload bytes never reach this layer.
type PacketSummary struct {
	Monotonic time.Duration
	Length    int
}

// Flow accumulates bidirectional traffic for one canonical 5-tuple. Only the
// aggregator goroutine mutates a Flow; everyone else sees Snapshot copies.
type Flow struct {
	Key       Key
	FirstSeen time.Duration
	LastSeen  time.Duration
	FirstWall time.Time

	Packets []PacketSummary

	PacketCount  int64
	DstPackets   int64 // packets travelling toward the canonical destination
	ByteTotal    int64
	PayloadTotal int64
	HeaderTotal  int64
	MinSize      int64
	MaxSize      int64

	// Smallest TTL observed on IPv4 packets; 0 until one is seen.
	MinTTL uint8

	FinCount int64
	SynCount int64
	RstCount int64
	PshCount int64
	AckCount int64
	UrgCount int64
	EceCount int64
	CwrCount int64

	HTTP   bool
	HTTPS  bool
	DNS    bool
	Telnet bool
	SMTP   bool
	SSH    bool
	IRC    bool

	TCP  bool
	UDP  bool
	ICMP bool
	ARP  bool
	DHCP bool
	IPv4 bool

	LastScoredPacketCount int64
}

const (
	protoICMP = 1
	protoTCP  = 6
	protoUDP  = 17
)

func newFlow(key Key, p capture.Packet) *Flow {
	f := &Flow{
		Key:       key,
		FirstSeen: p.Monotonic,
		LastSeen:  p.Monotonic,
		FirstWall: p.Wall,
		MinSize:   math.MaxInt64,
	}
	f.addPacket(p)
	return f
}

// addPacket folds one packet into the counters and appends its summary.
// Counters saturate rather than wrap.
func (f *Flow) addPacket(p capture.Packet) {
	if p.Monotonic > f.LastSeen {
		f.LastSeen = p.Monotonic
	}
	f.Packets = append(f.Packets, PacketSummary{Monotonic: p.Monotonic, Length: p.Length})

	f.PacketCount = satAdd(f.PacketCount, 1)
	if p.DstIP == f.Key.DstIP {
		f.DstPackets = satAdd(f.DstPackets, 1)
	}
	size := int64(p.Length)
	f.ByteTotal = satAdd(f.ByteTotal, size)
	f.PayloadTotal = satAdd(f.PayloadTotal, int64(p.PayloadLen))
	f.HeaderTotal = satAdd(f.HeaderTotal, int64(p.TransportHeaderLen))
	if size < f.MinSize {
		f.MinSize = size
	}
	if size > f.MaxSize {
		f.MaxSize = size
	}
	if p.IPv4 {
		f.IPv4 = true
		if f.MinTTL == 0 || p.TTL < f.MinTTL {
			f.MinTTL = p.TTL
		}
	}

	if p.Flags.Has(capture.FlagFIN) {
		f.FinCount = satAdd(f.FinCount, 1)
	}
	if p.Flags.Has(capture.FlagSYN) {
		f.SynCount = satAdd(f.SynCount, 1)
	}
	if p.Flags.Has(capture.FlagRST) {
		f.RstCount = satAdd(f.RstCount, 1)
	}
	if p.Flags.Has(capture.FlagPSH) {
		f.PshCount = satAdd(f.PshCount, 1)
	}
	if p.Flags.Has(capture.FlagACK) {
		f.AckCount = satAdd(f.AckCount, 1)
	}
	if p.Flags.Has(capture.FlagURG) {
		f.UrgCount = satAdd(f.UrgCount, 1)
	}
	if p.Flags.Has(capture.FlagECE) {
		f.EceCount = satAdd(f.EceCount, 1)
	}
	if p.Flags.Has(capture.FlagCWR) {
		f.CwrCount = satAdd(f.CwrCount, 1)
	}

	switch p.Protocol {
	case protoTCP:
		f.TCP = true
	case protoUDP:
		f.UDP = true
		if p.SrcPort == 67 || p.SrcPort == 68 || p.DstPort == 67 || p.DstPort == 68 {
			f.DHCP = true
		}
	case protoICMP:
		f.ICMP = true
	}
	if p.ARP {
		f.ARP = true
	}

	if p.Protocol == protoTCP || p.Protocol == protoUDP {
		markAppPort(f, p.SrcPort)
		markAppPort(f, p.DstPort)
	}
}

func markAppPort(f *Flow, port uint16) {
	switch port {
	case 80:
		f.HTTP = true
	case 443:
		f.HTTPS = true
	case 53:
		f.DNS = true
	case 23:
		f.Telnet = true
	case 25:
		f.SMTP = true
	case 22:
		f.SSH = true
	case 194:
		f.IRC = true
	}
}

func satAdd(a, b int64) int64 {
	s := a + b
	if b > 0 && s < a {
		return math.MaxInt64
	}
	return s
}

// Snapshot is an immutable copy of a flow taken for extraction, scoring, or
// display.
type Snapshot struct {
	Key       Key
	FirstSeen time.Duration
	LastSeen  time.Duration
	FirstWall time.Time

	Packets []PacketSummary

	PacketCount  int64
	DstPackets   int64
	ByteTotal    int64
	PayloadTotal int64
	HeaderTotal  int64
	MinSize      int64
	MaxSize      int64
	MinTTL       uint8

	FinCount int64
	SynCount int64
	RstCount int64
	PshCount int64
	AckCount int64
	UrgCount int64
	EceCount int64
	CwrCount int64

	HTTP   bool
	HTTPS  bool
	DNS    bool
	Telnet bool
	SMTP   bool
	SSH    bool
	IRC    bool

	TCP  bool
	UDP  bool
	ICMP bool
	ARP  bool
	DHCP bool
	IPv4 bool
}

// DurationSeconds is last_seen minus first_seen in seconds.
func (s Snapshot) DurationSeconds() float64 {
	return (s.LastSeen - s.FirstSeen).Seconds()
}

func (f *Flow) snapshot() Snapshot {
	pkts := make([]PacketSummary, len(f.Packets))
	copy(pkts, f.Packets)
	minSize := f.MinSize
	if minSize == math.MaxInt64 {
		minSize = 0
	}
	return Snapshot{
		Key:          f.Key,
		FirstSeen:    f.FirstSeen,
		LastSeen:     f.LastSeen,
		FirstWall:    f.FirstWall,
		Packets:      pkts,
		PacketCount:  f.PacketCount,
		DstPackets:   f.DstPackets,
		ByteTotal:    f.ByteTotal,
		PayloadTotal: f.PayloadTotal,
		HeaderTotal:  f.HeaderTotal,
		MinSize:      minSize,
		MaxSize:      f.MaxSize,
		MinTTL:       f.MinTTL,
		FinCount:     f.FinCount,
		SynCount:     f.SynCount,
		RstCount:     f.RstCount,
		PshCount:     f.PshCount,
		AckCount:     f.AckCount,
		UrgCount:     f.UrgCount,
		EceCount:     f.EceCount,
		CwrCount:     f.CwrCount,
		HTTP:         f.HTTP,
		HTTPS:        f.HTTPS,
		DNS:          f.DNS,
		Telnet:       f.Telnet,
		SMTP:         f.SMTP,
		SSH:          f.SSH,
		IRC:          f.IRC,
		TCP:          f.TCP,
		UDP:          f.UDP,
		ICMP:         f.ICMP,
		ARP:          f.ARP,
		DHCP:         f.DHCP,
		IPv4:         f.IPv4,
	}
}
