// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"container/list"
	"time"

	"github.com/gavv/monotime"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/capture"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
)

// ScoreFunc receives a flow snapshot due for scoring. final marks the last
// scoring pass before the flow is released. Implementations must not block;
// the aggregator calls this on its own goroutine.
type ScoreFunc func(snap Snapshot, final bool)

// Config tunes the flow table.
type Config struct {
	// Packets accumulated since the last scoring before the next one.
	ScoreInterval int64
	// Flows idle longer than this are evicted.
	IdleTimeout time.Duration
	// Table capacity; least-recently-seen flows are evicted beyond it.
	MaxFlows int
}

// Info is the lightweight per-flow view handed to the query surface.
type Info struct {
	Key         Key
	PacketCount int64
	Bytes       int64
	FirstWall   time.Time
	LastSeen    time.Duration
}

const evictInterval = time.Second

// Aggregator owns the flow table. All mutation happens on its run goroutine;
// external reads go through copy-on-read snapshots.
type Aggregator struct {
	cfg   Config
	score ScoreFunc
	log   *logging.Logger
	m     *metrics.Metrics
	now   func() time.Duration

	// lru front is the most recently seen flow. Element values are *Flow.
	lru   *list.List
	elems map[Key]*list.Element

	ingestCh chan capture.Packet
	snapCh   chan chan []Info
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAggregator builds a stopped aggregator; call Start to begin ingesting.
func NewAggregator(cfg Config, score ScoreFunc, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		score:    score,
		log:      logging.WithComponent("flow"),
		m:        m,
		now:      monotime.Now,
		lru:      list.New(),
		elems:    make(map[Key]*list.Element),
		ingestCh: make(chan capture.Packet, 1024),
		snapCh:   make(chan chan []Info),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the single-writer loop.
func (a *Aggregator) Start() {
	go a.run()
}

// Ingest hands a packet to the table. Returns immediately once the
// aggregator has shut down.
func (a *Aggregator) Ingest(p capture.Packet) {
	select {
	case a.ingestCh <- p:
	case <-a.doneCh:
	}
}

// Snapshot returns a copy-on-read view of every live flow.
func (a *Aggregator) Snapshot() []Info {
	reply := make(chan []Info, 1)
	select {
	case a.snapCh <- reply:
		return <-reply
	case <-a.doneCh:
		return nil
	}
}

// Stop finalizes all flows, triggering a last scoring pass for any with at
// least two packets, and waits for the loop to exit.
func (a *Aggregator) Stop() {
	select {
	case <-a.doneCh:
		return
	default:
	}
	close(a.stopCh)
	<-a.doneCh
}

func (a *Aggregator) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case p := <-a.ingestCh:
			a.handlePacket(p)
		case <-ticker.C:
			a.evictIdle(a.now())
		case reply := <-a.snapCh:
			reply <- a.infoSnapshot()
		case <-a.stopCh:
			a.finalize()
			return
		}
	}
}

func (a *Aggregator) handlePacket(p capture.Packet) {
	key := KeyFromPacket(p)
	el, ok := a.elems[key]
	if !ok {
		// The reverse direction owns the flow if it was seen first.
		if rel, rok := a.elems[key.Reverse()]; rok {
			el, ok = rel, true
		}
	}

	var f *Flow
	if ok {
		f = el.Value.(*Flow)
		f.addPacket(p)
		a.lru.MoveToFront(el)
	} else {
		f = newFlow(key, p)
		a.elems[key] = a.lru.PushFront(f)
		a.m.ActiveFlows.Set(float64(a.lru.Len()))
		a.evictToCapacity()
	}

	if f.PacketCount-f.LastScoredPacketCount >= a.cfg.ScoreInterval {
		f.LastScoredPacketCount = f.PacketCount
		a.score(f.snapshot(), false)
	}
}

func (a *Aggregator) evictIdle(now time.Duration) {
	// LRU order tracks last_seen order, so the stale tail is contiguous.
	for {
		el := a.lru.Back()
		if el == nil {
			break
		}
		f := el.Value.(*Flow)
		if now-f.LastSeen <= a.cfg.IdleTimeout {
			break
		}
		a.remove(el, f, "idle")
	}
}

func (a *Aggregator) evictToCapacity() {
	for a.lru.Len() > a.cfg.MaxFlows {
		el := a.lru.Back()
		f := el.Value.(*Flow)
		a.remove(el, f, "capacity")
	}
}

func (a *Aggregator) finalize() {
	for {
		el := a.lru.Back()
		if el == nil {
			return
		}
		a.remove(el, el.Value.(*Flow), "shutdown")
	}
}

// remove releases a flow after a final scoring pass. Flows that were already
// scored at their current packet count are not re-scored.
func (a *Aggregator) remove(el *list.Element, f *Flow, reason string) {
	if f.PacketCount >= 2 && f.PacketCount > f.LastScoredPacketCount {
		f.LastScoredPacketCount = f.PacketCount
		a.score(f.snapshot(), true)
	}
	a.lru.Remove(el)
	delete(a.elems, f.Key)
	a.m.FlowsEvicted.WithLabelValues(reason).Inc()
	a.m.ActiveFlows.Set(float64(a.lru.Len()))
}

func (a *Aggregator) infoSnapshot() []Info {
	out := make([]Info, 0, a.lru.Len())
	for el := a.lru.Front(); el != nil; el = el.Next() {
		f := el.Value.(*Flow)
		out = append(out, Info{
			Key:         f.Key,
			PacketCount: f.PacketCount,
			Bytes:       f.ByteTotal,
			FirstWall:   f.FirstWall,
			LastSeen:    f.LastSeen,
		})
	}
	return out
}
