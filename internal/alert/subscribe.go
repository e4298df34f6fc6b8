// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alert

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
)

// subscriberBuffer bounds each subscriber's backlog. A slow subscriber loses
// its oldest alerts rather than stalling the producer.
const subscriberBuffer = 1024

// Subscription is one subscriber's view of newly created alerts, delivered
// in id order.
type Subscription struct {
	id       string
	ch       chan Alert
	degraded atomic.Bool
	close    func()
	once     sync.Once
}

// C is the alert stream. It closes when the subscription or the manager
// shuts down.
func (s *Subscription) C() <-chan Alert { return s.ch }

// ID identifies the subscriber in logs.
func (s *Subscription) ID() string { return s.id }

// Degraded reports whether this subscriber has ever lost an alert to
// buffer overflow.
func (s *Subscription) Degraded() bool { return s.degraded.Load() }

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() { s.once.Do(s.close) }

type broadcaster struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
	m      *metrics.Metrics
}

func newBroadcaster(m *metrics.Metrics) *broadcaster {
	return &broadcaster{subs: make(map[string]*Subscription), m: m}
}

func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	sub := &Subscription{id: id, ch: make(chan Alert, subscriberBuffer)}
	sub.close = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[id] = sub
	return sub
}

// publish fans an alert out to every subscriber, dropping each subscriber's
// oldest buffered alert on overflow.
func (b *broadcaster) publish(a Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- a:
			default:
				select {
				case <-sub.ch:
					sub.degraded.Store(true)
					b.m.SubscriberOverflows.Inc()
				default:
					// The consumer drained the buffer between the two
					// selects; the send is retried so the fresh alert is
					// never the one lost.
				}
				continue
			}
			break
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
