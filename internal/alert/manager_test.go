// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alert

import (
	"net/netip"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/clock"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

func testSnap(srcPort uint16) flow.Snapshot {
	return flow.Snapshot{
		Key: flow.Key{
			SrcIP:    netip.MustParseAddr("10.0.0.50"),
			DstIP:    netip.MustParseAddr("10.0.0.100"),
			Protocol: 6,
			SrcPort:  srcPort,
			DstPort:  80,
		},
		PacketCount: 1000,
	}
}

func testPred(conf float64) model.Prediction {
	return model.Prediction{
		Label:      "DDoS-SYN_Flood",
		Severity:   model.SeverityMedium,
		Confidence: conf,
		Method:     model.MethodConsensus,
	}
}

func newTestManager(t *testing.T, clk clock.Clock, sinks ...Sink) *Manager {
	t.Helper()
	mg, err := NewManager(Config{
		LogPath:      filepath.Join(t.TempDir(), "alerts.jsonl"),
		DedupeWindow: 10 * time.Second,
		MaxAlerts:    10000,
	}, clk, metrics.New(), sinks...)
	require.NoError(t, err)
	t.Cleanup(func() { mg.Close() })
	return mg
}

func TestIngestCreates(t *testing.T) {
	clk := clock.NewMockClock()
	mg := newTestManager(t, clk)

	a, created := mg.Ingest(testSnap(1234), testPred(0.97), "high-rate SYN traffic")
	assert.True(t, created)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, StatusNew, a.Status)
	assert.Equal(t, "DDoS-SYN_Flood", a.Threat)
	assert.Equal(t, "10.0.0.50", a.SrcIP)
	assert.Equal(t, uint16(80), a.DstPort)
	assert.False(t, a.Acknowledged)

	b, created := mg.Ingest(testSnap(9999), testPred(0.97), "")
	assert.True(t, created)
	assert.Equal(t, int64(2), b.ID, "ids are strictly monotonic")
}

func TestDedupeWithinWindow(t *testing.T) {
	clk := clock.NewMockClock()
	mg := newTestManager(t, clk)

	a, _ := mg.Ingest(testSnap(1234), testPred(0.96), "")
	clk.Advance(5 * time.Second)
	b, created := mg.Ingest(testSnap(1234), testPred(0.99), "")

	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 0.99, b.Confidence, "confidence takes the max")
	assert.Greater(t, b.LastUpdated, a.Timestamp)

	// Lower-confidence repeat does not regress.
	c, _ := mg.Ingest(testSnap(1234), testPred(0.90), "")
	assert.Equal(t, 0.99, c.Confidence)
}

func TestDedupeWindowExpires(t *testing.T) {
	clk := clock.NewMockClock()
	mg := newTestManager(t, clk)

	a, _ := mg.Ingest(testSnap(1234), testPred(0.97), "")
	clk.Advance(11 * time.Second)
	b, created := mg.Ingest(testSnap(1234), testPred(0.97), "")

	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAcknowledgeIdempotent(t *testing.T) {
	clk := clock.NewMockClock()
	mg := newTestManager(t, clk)
	mg.Ingest(testSnap(1234), testPred(0.97), "")

	a, err := mg.Acknowledge(1, "alice", "under review")
	require.NoError(t, err)
	assert.True(t, a.Acknowledged)
	assert.Equal(t, "alice", a.AckUser)
	assert.Equal(t, "under review", a.Notes)

	clk.Advance(time.Minute)
	b, err := mg.Acknowledge(1, "alice", "under review")
	require.NoError(t, err)
	assert.Equal(t, a, b, "repeat acknowledgement changes nothing")

	_, err = mg.Acknowledge(42, "alice", "")
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestStatusMachine(t *testing.T) {
	clk := clock.NewMockClock()
	mg := newTestManager(t, clk)
	mg.Ingest(testSnap(1234), testPred(0.97), "")

	a, err := mg.SetStatus(1, StatusInvestigating, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, a.Status)

	a, err = mg.SetStatus(1, StatusResolved, "firewall blocked")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, a.Status)
	assert.Contains(t, a.Notes, "firewall blocked")

	// Reopening a terminal status is an explicit override, noted.
	a, err = mg.SetStatus(1, StatusNew, "")
	require.NoError(t, err)
	assert.Equal(t, StatusNew, a.Status)
	assert.Contains(t, a.Notes, "reopened: resolved -> new")

	_, err = mg.SetStatus(1, "bogus", "")
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	same, err := mg.SetStatus(1, StatusNew, "ignored")
	require.NoError(t, err)
	assert.Equal(t, a.Notes, same.Notes, "repeat status is a no-op")
}

func TestQueryFilters(t *testing.T) {
	clk := clock.NewMockClock()
	mg := newTestManager(t, clk)

	mg.Ingest(testSnap(1000), testPred(0.97), "")
	high := testPred(0.99)
	high.Label = "SqlInjection"
	high.Severity = model.SeverityHigh
	mg.Ingest(testSnap(1001), high, "")
	mg.Ingest(testSnap(1002), testPred(0.96), "")
	_, err := mg.Acknowledge(3, "bob", "")
	require.NoError(t, err)

	all := mg.Query(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID, "newest first")

	bySev := mg.Query(Filter{Severity: model.SeverityHigh})
	require.Len(t, bySev, 1)
	assert.Equal(t, "SqlInjection", bySev[0].Threat)

	acked := true
	byAck := mg.Query(Filter{Acknowledged: &acked})
	require.Len(t, byAck, 1)
	assert.Equal(t, int64(3), byAck[0].ID)

	limited := mg.Query(Filter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestReplayReconstructs(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		LogPath:      filepath.Join(dir, "alerts.jsonl"),
		DedupeWindow: 10 * time.Second,
		MaxAlerts:    10000,
	}
	clk := clock.NewMockClock()

	mg1, err := NewManager(cfg, clk, metrics.New())
	require.NoError(t, err)
	orig, _ := mg1.Ingest(testSnap(1234), testPred(0.97), "ctx")
	mg1.Ingest(testSnap(9999), testPred(0.96), "")
	acked, err := mg1.Acknowledge(1, "alice", "seen")
	require.NoError(t, err)
	_, err = mg1.SetStatus(2, StatusResolved, "")
	require.NoError(t, err)
	require.NoError(t, mg1.Close())

	mg2, err := NewManager(cfg, clk, metrics.New())
	require.NoError(t, err)
	defer mg2.Close()

	got, err := mg2.Get(1)
	require.NoError(t, err)
	assert.Equal(t, acked, got, "replay reproduces the last logged state")
	assert.Equal(t, orig.Timestamp, got.Timestamp)

	resolved, err := mg2.Get(2)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)

	next, created := mg2.Ingest(testSnap(777), testPred(0.97), "")
	assert.True(t, created)
	assert.Equal(t, int64(3), next.ID, "id counter continues after replay")
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	clk := clock.NewMockClock()
	mg := newTestManager(t, clk)

	sub := mg.Subscribe()
	defer sub.Close()

	mg.Ingest(testSnap(1000), testPred(0.97), "")
	mg.Ingest(testSnap(1001), testPred(0.97), "")

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.False(t, sub.Degraded())
}

func TestSubscriberOverflowDropsOldest(t *testing.T) {
	b := newBroadcaster(metrics.New())
	sub := b.subscribe()
	defer sub.Close()

	for i := 1; i <= subscriberBuffer+5; i++ {
		b.publish(Alert{ID: int64(i)})
	}

	assert.True(t, sub.Degraded())
	first := <-sub.C()
	assert.Equal(t, int64(6), first.ID, "oldest five were dropped")
}

func TestPublishSurvivesConcurrentDrain(t *testing.T) {
	b := newBroadcaster(metrics.New())
	sub := b.subscribe()

	var newest atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for a := range sub.C() {
			newest.Store(a.ID)
		}
	}()

	const last = 20000
	for i := 1; i <= last; i++ {
		b.publish(Alert{ID: int64(i)})
	}
	b.closeAll()
	<-done

	assert.Equal(t, int64(last), newest.Load(),
		"the freshest alert is delivered even when the consumer drains mid-publish")
}

func TestEvictionPrefersTriaged(t *testing.T) {
	clk := clock.NewMockClock()
	mg, err := NewManager(Config{DedupeWindow: time.Second, MaxAlerts: 3}, clk, metrics.New())
	require.NoError(t, err)
	defer mg.Close()

	mg.Ingest(testSnap(1000), testPred(0.97), "")
	mg.Ingest(testSnap(1001), testPred(0.97), "")
	mg.Ingest(testSnap(1002), testPred(0.97), "")
	_, err = mg.SetStatus(2, StatusResolved, "")
	require.NoError(t, err)

	mg.Ingest(testSnap(1003), testPred(0.97), "")

	_, err = mg.Get(2)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err), "resolved alert evicted first")
	_, err = mg.Get(1)
	assert.NoError(t, err, "new alerts survive")
}

type recordingSink struct{ got []Alert }

func (r *recordingSink) HandleAlert(a Alert) { r.got = append(r.got, a) }

func TestSinksInvokedOnCreateOnly(t *testing.T) {
	clk := clock.NewMockClock()
	sink := &recordingSink{}
	mg := newTestManager(t, clk, sink)

	mg.Ingest(testSnap(1234), testPred(0.97), "")
	mg.Ingest(testSnap(1234), testPred(0.99), "") // dedupe update

	require.Len(t, sink.got, 1)
	assert.Equal(t, int64(1), sink.got[0].ID)
}
