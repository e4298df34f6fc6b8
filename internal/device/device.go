// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package device profiles the hosts seen on the monitored network and flags
// the ones that look like IoT devices. Identification works from the MAC
// vendor prefix when the capture medium exposes one, and from the IoT
// protocol ports a host talks on otherwise.
package device

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/capture"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/clock"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
)

// Identification confidence and method values.
const (
	ConfidenceHigh    = "high"
	ConfidenceMedium  = "medium"
	ConfidenceUnknown = "unknown"

	MethodMACVendor    = "mac_vendor"
	MethodPortBehavior = "port_behavior"
)

// maxDevices bounds the tracker. MACs beyond the bound are ignored rather
// than evicting already profiled devices.
const maxDevices = 4096

// maxPortsPerDevice caps the per-device port set so ephemeral source ports
// cannot grow it without bound.
const maxPortsPerDevice = 64

const resolveTimeout = 2 * time.Second

// Device is one profiled host, keyed by hardware address.
type Device struct {
	MAC          string    `json:"mac"`
	IP           string    `json:"ip"`
	Hostname     string    `json:"hostname,omitempty"`
	FriendlyName string    `json:"friendly_name"`
	Vendor       string    `json:"vendor,omitempty"`
	IoT          bool      `json:"is_iot"`
	Confidence   string    `json:"confidence"`
	Method       string    `json:"method,omitempty"`
	Indicators   []string  `json:"indicators,omitempty"`
	Ports        []uint16  `json:"ports"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	PacketCount  int64     `json:"packet_count"`
}

// Summary aggregates the tracker for the API.
type Summary struct {
	Total            int      `json:"total_devices"`
	IoT              int      `json:"iot_devices"`
	HighConfidence   int      `json:"high_confidence"`
	MediumConfidence int      `json:"medium_confidence"`
	DeviceTypes      []string `json:"device_types"`
}

type entry struct {
	ip         netip.Addr
	hostname   string
	vendor     string
	iot        bool
	confidence string
	method     string
	indicators map[string]struct{}
	ports      map[uint16]struct{}
	firstSeen  time.Time
	lastSeen   time.Time
	packets    int64
}

// Tracker observes packets and maintains device profiles. Observe is called
// from the capture ingest path and must stay cheap; the reverse-DNS lookup
// for a new device runs on its own goroutine.
type Tracker struct {
	log     *logging.Logger
	clk     clock.Clock
	resolve func(ip string) string

	mu      sync.Mutex
	devices map[capture.MAC]*entry
	ipToMAC map[netip.Addr]capture.MAC
}

// NewTracker builds an empty tracker.
func NewTracker(clk clock.Clock) *Tracker {
	return &Tracker{
		log:     logging.WithComponent("device"),
		clk:     clk,
		resolve: shortHostname,
		devices: make(map[capture.MAC]*entry),
		ipToMAC: make(map[netip.Addr]capture.MAC),
	}
}

// Observe registers the packet's sender. Packets without a hardware address
// and loopback senders carry no device identity and are skipped.
func (t *Tracker) Observe(p capture.Packet) {
	if p.SrcMAC.IsZero() || !p.SrcIP.IsValid() || p.SrcIP.IsLoopback() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.devices[p.SrcMAC]
	if !ok {
		if len(t.devices) >= maxDevices {
			return
		}
		now := t.clk.Now()
		e = &entry{
			ip:         p.SrcIP,
			confidence: ConfidenceUnknown,
			indicators: make(map[string]struct{}),
			ports:      make(map[uint16]struct{}),
			firstSeen:  now,
		}
		if vendor, hit := iotVendors[p.SrcMAC.OUI()]; hit {
			e.vendor = vendor
			e.iot = true
			e.confidence = ConfidenceHigh
			e.method = MethodMACVendor
			t.log.Info("iot device identified", "mac", p.SrcMAC, "vendor", vendor, "ip", p.SrcIP)
		}
		t.devices[p.SrcMAC] = e
		go t.resolveHostname(p.SrcMAC, p.SrcIP)
	}

	e.ip = p.SrcIP
	e.lastSeen = t.clk.Now()
	e.packets++
	t.ipToMAC[p.SrcIP] = p.SrcMAC

	if len(e.ports) < maxPortsPerDevice {
		if p.DstPort != 0 {
			e.ports[p.DstPort] = struct{}{}
		}
		if p.SrcPort != 0 {
			e.ports[p.SrcPort] = struct{}{}
		}
	}
	t.evaluateBehavior(p.SrcMAC, e)
}

// evaluateBehavior re-checks the port set of a not-yet-identified device
// against the IoT protocol indicators. Caller holds t.mu.
func (t *Tracker) evaluateBehavior(mac capture.MAC, e *entry) {
	if e.iot {
		return
	}
	for proto, ports := range iotPortIndicators {
		for _, port := range ports {
			if _, ok := e.ports[port]; ok {
				e.indicators[proto] = struct{}{}
			}
		}
	}
	if len(e.indicators) > 0 {
		e.iot = true
		e.confidence = ConfidenceMedium
		e.method = MethodPortBehavior
		t.log.Info("iot device identified by behavior",
			"mac", mac, "ip", e.ip, "indicators", setToSorted(e.indicators))
	}
}

func (t *Tracker) resolveHostname(mac capture.MAC, ip netip.Addr) {
	name := t.resolve(ip.String())
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.devices[mac]; ok {
		e.hostname = name
	}
}

// Lookup returns the profile of the device last seen at ip.
func (t *Tracker) Lookup(ip netip.Addr) (Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mac, ok := t.ipToMAC[ip]
	if !ok {
		return Device{}, false
	}
	return t.devices[mac].view(mac), true
}

// Snapshot returns every profiled device, oldest first.
func (t *Tracker) Snapshot() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Device, 0, len(t.devices))
	for mac, e := range t.devices {
		out = append(out, e.view(mac))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].MAC < out[j].MAC
	})
	return out
}

// Summarize aggregates counts and the identified device types.
func (t *Tracker) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{Total: len(t.devices)}
	types := make(map[string]struct{})
	for _, e := range t.devices {
		if !e.iot {
			continue
		}
		s.IoT++
		switch e.confidence {
		case ConfidenceHigh:
			s.HighConfidence++
		case ConfidenceMedium:
			s.MediumConfidence++
		}
		if e.vendor != "" {
			types[e.vendor] = struct{}{}
		} else {
			types["IoT Device"] = struct{}{}
		}
	}
	s.DeviceTypes = setToSorted(types)
	return s
}

func (e *entry) view(mac capture.MAC) Device {
	d := Device{
		MAC:         mac.String(),
		IP:          e.ip.String(),
		Hostname:    e.hostname,
		Vendor:      e.vendor,
		IoT:         e.iot,
		Confidence:  e.confidence,
		Method:      e.method,
		Indicators:  setToSorted(e.indicators),
		FirstSeen:   e.firstSeen,
		LastSeen:    e.lastSeen,
		PacketCount: e.packets,
	}
	d.Ports = make([]uint16, 0, len(e.ports))
	for p := range e.ports {
		d.Ports = append(d.Ports, p)
	}
	sort.Slice(d.Ports, func(i, j int) bool { return d.Ports[i] < d.Ports[j] })
	d.FriendlyName = friendlyName(d)
	return d
}

// friendlyName picks a display name: hostname, then vendor, then a stand-in
// derived from the address.
func friendlyName(d Device) string {
	if d.Hostname != "" && d.Hostname != d.IP && len(d.Hostname) > 3 {
		return d.Hostname
	}
	if d.Vendor != "" {
		return d.Vendor
	}
	if d.IoT {
		return "IoT Device"
	}
	if i := strings.LastIndex(d.IP, "."); i >= 0 {
		return "Device-" + d.IP[i+1:]
	}
	return fmt.Sprintf("Device-%s", d.IP)
}

func setToSorted(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// shortHostname reverse-resolves ip and keeps the first label, the way
// mDNS names read ("living-room-cam" from "living-room-cam.local").
func shortHostname(ip string) string {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	name := strings.TrimSuffix(names[0], ".")
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}
