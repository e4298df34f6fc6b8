// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/gavv/monotime"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// TCPFlags is a bitmask of the TCP flag bits observed on a packet.
type TCPFlags uint16

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Has reports whether all bits in f are set.
func (t TCPFlags) Has(f TCPFlags) bool { return t&f == f }

// MAC is an Ethernet hardware address in wire order. The zero value means
// the capture medium exposed no link layer.
type MAC [6]byte

// IsZero reports whether no hardware address was observed.
func (m MAC) IsZero() bool { return m == MAC{} }

// OUI returns the vendor-assigned first three octets.
func (m MAC) OUI() [3]byte { return [3]byte{m[0], m[1], m[2]} }

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Packet is the parsed per-packet summary handed to the flow aggregator.
// Payload bytes are discarded at parse time; only header facts survive.
type Packet struct {
	// Monotonic capture timestamp, immune to wall-clock jumps.
	Monotonic time.Duration
	// Wall time from the capture handle.
	Wall time.Time

	SrcMAC MAC
	DstMAC MAC

	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // IP protocol number; 0 for ARP
	SrcPort  uint16
	DstPort  uint16

	Flags TCPFlags

	Length             int // total packet length on the wire
	TransportHeaderLen int
	PayloadLen         int

	TTL  uint8 // smallest-TTL surrogate input; 0 unless IPv4
	IPv4 bool
	ARP  bool
}

const (
	udpHeaderLen    = 8
	icmpHeaderLen   = 8
	tcpMinHeaderLen = 20
)

// Parse extracts a Packet summary from a decoded gopacket packet. Packets
// without a usable network layer are rejected.
func Parse(pkt gopacket.Packet) (Packet, error) {
	out := Packet{
		Monotonic: monotime.Now(),
		Wall:      pkt.Metadata().Timestamp,
		Length:    pkt.Metadata().Length,
	}
	if out.Wall.IsZero() {
		out.Wall = time.Now()
	}
	if out.Length == 0 {
		out.Length = len(pkt.Data())
	}

	if ethLayer := pkt.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth := ethLayer.(*layers.Ethernet)
		if len(eth.SrcMAC) == len(out.SrcMAC) {
			copy(out.SrcMAC[:], eth.SrcMAC)
		}
		if len(eth.DstMAC) == len(out.DstMAC) {
			copy(out.DstMAC[:], eth.DstMAC)
		}
	}

	switch {
	case pkt.Layer(layers.LayerTypeIPv4) != nil:
		ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		out.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		out.DstIP, _ = netip.AddrFromSlice(ip.DstIP.To4())
		out.Protocol = uint8(ip.Protocol)
		out.TTL = ip.TTL
		out.IPv4 = true
	case pkt.Layer(layers.LayerTypeIPv6) != nil:
		ip := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		out.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP)
		out.DstIP, _ = netip.AddrFromSlice(ip.DstIP)
		out.Protocol = uint8(ip.NextHeader)
	case pkt.Layer(layers.LayerTypeARP) != nil:
		arp := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
		out.SrcIP, _ = netip.AddrFromSlice(arp.SourceProtAddress)
		out.DstIP, _ = netip.AddrFromSlice(arp.DstProtAddress)
		out.ARP = true
		return out, nil
	default:
		return Packet{}, fmt.Errorf("packet has no network layer")
	}

	if !out.SrcIP.IsValid() || !out.DstIP.IsValid() {
		return Packet{}, fmt.Errorf("packet has malformed addresses")
	}

	if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		out.SrcPort = uint16(tcp.SrcPort)
		out.DstPort = uint16(tcp.DstPort)
		// Synthesized packets may omit the data offset; assume the
		// minimum 20-byte header.
		if tcp.DataOffset >= 5 {
			out.TransportHeaderLen = int(tcp.DataOffset) * 4
		} else {
			out.TransportHeaderLen = tcpMinHeaderLen
		}
		out.PayloadLen = len(tcp.Payload)
		out.Flags = tcpFlagBits(tcp)
	} else if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		out.SrcPort = uint16(udp.SrcPort)
		out.DstPort = uint16(udp.DstPort)
		out.TransportHeaderLen = udpHeaderLen
		out.PayloadLen = len(udp.Payload)
	} else if icmpLayer := pkt.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		icmp := icmpLayer.(*layers.ICMPv4)
		out.TransportHeaderLen = icmpHeaderLen
		out.PayloadLen = len(icmp.Payload)
	} else if icmp6Layer := pkt.Layer(layers.LayerTypeICMPv6); icmp6Layer != nil {
		icmp := icmp6Layer.(*layers.ICMPv6)
		out.TransportHeaderLen = icmpHeaderLen
		out.PayloadLen = len(icmp.Payload)
	}

	return out, nil
}

func tcpFlagBits(tcp *layers.TCP) TCPFlags {
	var f TCPFlags
	if tcp.FIN {
		f |= FlagFIN
	}
	if tcp.SYN {
		f |= FlagSYN
	}
	if tcp.RST {
		f |= FlagRST
	}
	if tcp.PSH {
		f |= FlagPSH
	}
	if tcp.ACK {
		f |= FlagACK
	}
	if tcp.URG {
		f |= FlagURG
	}
	if tcp.ECE {
		f |= FlagECE
	}
	if tcp.CWR {
		f |= FlagCWR
	}
	return f
}
