// Package eventbus implements the Event Bus (C10): an in-process pub/sub
// fan-out of committed Actions and escalation/verification events to any
// number of subscribers (e.g. a streaming API, a metrics exporter), with
// per-subscriber bounded buffering and drop-on-overflow (spec §4.10).
package eventbus

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 64

// HeartbeatInterval is how often the bus emits a heartbeat Event on every
// subscriber channel, so idle consumers can detect a live connection.
const HeartbeatInterval = 15 * time.Second

// Event is one published message. Kind distinguishes the payload shape a
// subscriber should expect ("action", "escalation", "verification",
// "heartbeat").
type Event struct {
	Kind      string
	Payload   interface{}
	Timestamp time.Time
}

// subscriber is one registered listener.
type subscriber struct {
	id      uint64
	ch      chan Event
	dropped *uint64
}

// Bus is a mutex-guarded in-process publish/subscribe fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	bufferSize  int

	subscriberGauge prometheus.Gauge
	droppedCounter  *prometheus.CounterVec

	stopHeartbeat chan struct{}
	heartbeatOnce sync.Once
}

// New constructs a Bus with the given per-subscriber buffer size
// (DefaultBufferSize when <= 0) and registers its Prometheus metrics with
// reg (nil uses the default registerer — callers pass a dedicated registry
// in tests to avoid global collisions).
func New(bufferSize int, reg prometheus.Registerer) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b := &Bus{
		subscribers: make(map[uint64]*subscriber),
		bufferSize:  bufferSize,
		subscriberGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Current number of active event bus subscribers.",
		}),
		droppedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Total events dropped due to a full subscriber buffer.",
		}, []string{"subscriber"}),
		stopHeartbeat: make(chan struct{}),
	}
	if reg != nil {
		reg.MustRegister(b.subscriberGauge, b.droppedCounter)
	}
	return b
}

// Subscribe registers a new listener and returns its channel and an
// unsubscribe function (spec §4.10: "subscribe() returns (channel,
// unsubscribe)").
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	var dropped uint64
	sub := &subscriber{id: id, ch: make(chan Event, b.bufferSize), dropped: &dropped}
	b.subscribers[id] = sub
	b.subscriberGauge.Set(float64(len(b.subscribers)))

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			close(s.ch)
			delete(b.subscribers, id)
			b.subscriberGauge.Set(float64(len(b.subscribers)))
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans ev out to every current subscriber, dropping (never
// blocking) on a full buffer and incrementing that subscriber's dropped
// counter (spec §4.10).
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for key, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(sub.dropped, 1)
			b.droppedCounter.WithLabelValues(subscriberLabel(key)).Inc()
		}
	}
}

// subscriberLabel renders a subscriber id into a short, stable metric
// label via xxhash, so cardinality stays bounded even with long-lived
// high-churn subscriber populations.
func subscriberLabel(id uint64) string {
	digest := xxhash.Sum64String(strconv.FormatUint(id, 10))
	return fmt.Sprintf("%016x", digest)[:8]
}

// StartHeartbeat begins emitting a heartbeat Event on every subscriber
// channel every HeartbeatInterval, until Stop is called. Safe to call at
// most once per Bus.
func (b *Bus) StartHeartbeat() {
	b.heartbeatOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(HeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					b.Publish(Event{Kind: "heartbeat", Timestamp: time.Now()})
				case <-b.stopHeartbeat:
					return
				}
			}
		}()
	})
}

// Stop halts the heartbeat goroutine, if running.
func (b *Bus) Stop() {
	close(b.stopHeartbeat)
}

// SubscriberCount returns the current number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
