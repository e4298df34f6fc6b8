// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"strings"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcap"
	"github.com/paulbellamy/ratecounter"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
)

// Source produces parsed packets until closed. The channel closes when the
// underlying handle is exhausted or Close is called.
type Source interface {
	Packets() <-chan Packet
	Close()
}

const (
	snapLen    = 65536
	packetsBuf = 8192
)

// LiveSource captures from a network interface in promiscuous mode.
type LiveSource struct {
	handle *pcap.Handle
	out    chan Packet
	log    *logging.Logger
	m      *metrics.Metrics

	dropRate *ratecounter.RateCounter
	lastWarn time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// OpenLive opens iface for capture. Permission failures and unknown
// interfaces are distinguished so the caller can pick the right exit path.
func OpenLive(iface, bpfFilter string, m *metrics.Metrics) (*LiveSource, error) {
	handle, err := pcap.OpenLive(iface, snapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, classifyOpenError(iface, err)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, errors.KindValidation, "invalid BPF filter %q", bpfFilter)
		}
	}

	s := &LiveSource{
		handle:   handle,
		out:      make(chan Packet, packetsBuf),
		log:      logging.WithComponent("capture"),
		m:        m,
		dropRate: ratecounter.NewRateCounter(time.Second),
		done:     make(chan struct{}),
	}
	go s.run()
	s.log.Info("capture started", "interface", iface, "snaplen", snapLen, "filter", bpfFilter)
	return s, nil
}

func classifyOpenError(iface string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "operation not permitted"):
		return errors.Wrapf(err, errors.KindPermission, "insufficient privilege to capture on %s", iface)
	case strings.Contains(msg, "no such device") || strings.Contains(msg, "doesn't exist"):
		return errors.Wrapf(err, errors.KindNotFound, "capture interface %s not found", iface)
	default:
		return errors.Wrapf(err, errors.KindUnavailable, "failed to open capture on %s", iface)
	}
}

func (s *LiveSource) run() {
	defer close(s.out)

	src := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	src.NoCopy = true
	for pkt := range src.Packets() {
		parsed, err := Parse(pkt)
		if err != nil {
			s.m.ParseErrors.Inc()
			continue
		}
		s.m.PacketsCaptured.Inc()

		select {
		case s.out <- parsed:
		case <-s.done:
			return
		default:
			// Downstream stalled. Dropping here keeps the capture
			// loop from blocking the kernel buffer.
			s.m.PacketsDropped.Inc()
			s.dropRate.Incr(1)
			if time.Since(s.lastWarn) >= time.Second {
				s.lastWarn = time.Now()
				s.log.Warn("dropping packets, downstream not keeping up",
					"drops_per_second", s.dropRate.Rate())
			}
		}
	}
}

// Packets returns the parsed packet stream.
func (s *LiveSource) Packets() <-chan Packet { return s.out }

// Close stops capture. Safe to call more than once.
func (s *LiveSource) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.handle.Close()
	})
}
