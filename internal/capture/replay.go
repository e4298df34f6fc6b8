// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"io"
	"os"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
)

// ReplaySource reads a pcap file and emits its packets as fast as the
// downstream consumes them. Monotonic timestamps are reconstructed from the
// recorded capture times so inter-arrival features match the original trace.
type ReplaySource struct {
	f   *os.File
	out chan Packet

	closeOnce sync.Once
	done      chan struct{}
}

// OpenReplay opens a pcap file for offline analysis.
func OpenReplay(path string, m *metrics.Metrics) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "failed to open pcap file %s", path)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to read pcap file %s", path)
	}

	s := &ReplaySource{
		f:    f,
		out:  make(chan Packet, packetsBuf),
		done: make(chan struct{}),
	}
	go s.run(r, m)
	logging.WithComponent("capture").Info("replaying pcap file", "path", path, "link_type", r.LinkType().String())
	return s, nil
}

func (s *ReplaySource) run(r *pcapgo.Reader, m *metrics.Metrics) {
	defer close(s.out)
	defer s.f.Close()

	log := logging.WithComponent("capture")
	var firstSeen bool
	var origin gopacket.CaptureInfo
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Warn("pcap read error, stopping replay", "error", err)
			return
		}
		if !firstSeen {
			firstSeen = true
			origin = ci
		}

		pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
		md := pkt.Metadata()
		md.CaptureInfo = ci

		parsed, err := Parse(pkt)
		if err != nil {
			m.ParseErrors.Inc()
			continue
		}
		// Rebase onto the trace's own clock.
		parsed.Monotonic = ci.Timestamp.Sub(origin.Timestamp)
		parsed.Wall = ci.Timestamp
		m.PacketsCaptured.Inc()

		select {
		case s.out <- parsed:
		case <-s.done:
			return
		}
	}
}

// Packets returns the replayed packet stream.
func (s *ReplaySource) Packets() <-chan Packet { return s.out }

// Close stops the replay. Safe to call more than once.
func (s *ReplaySource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
