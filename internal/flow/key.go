// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"fmt"
	"net/netip"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/capture"
)

// Key is the 5-tuple identifying one direction of a flow. ICMP and ARP
// traffic carries zero ports.
type Key struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
}

// KeyFromPacket builds the directional key for a parsed packet.
func KeyFromPacket(p capture.Packet) Key {
	return Key{
		SrcIP:    p.SrcIP,
		DstIP:    p.DstIP,
		Protocol: p.Protocol,
		SrcPort:  p.SrcPort,
		DstPort:  p.DstPort,
	}
}

// Reverse returns the key for the opposite direction. A key and its reverse
// designate the same bidirectional flow.
func (k Key) Reverse() Key {
	return Key{
		SrcIP:    k.DstIP,
		DstIP:    k.SrcIP,
		Protocol: k.Protocol,
		SrcPort:  k.DstPort,
		DstPort:  k.SrcPort,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort, k.Protocol)
}
