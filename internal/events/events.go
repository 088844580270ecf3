package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/web3-frozen/defilens/internal/metrics"
)

// Topic names a channel on the bus.
type Topic string

const (
	TopicUpdate Topic = "update"
	TopicAlert  Topic = "alert"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Update is emitted once per monitored address per tick.
type Update struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Kind      string    `json:"kind"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is emitted when a rule fires or an opportunity is detected.
type Alert struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value,omitempty"`
}

// NewUpdate stamps an update with a fresh id.
func NewUpdate(address, kind string, value float64, ts time.Time) Update {
	return Update{ID: uuid.NewString(), Address: address, Kind: kind, Value: value, Timestamp: ts}
}

// NewAlert stamps an alert with a fresh id.
func NewAlert(address, alertType, message string, sev Severity, ts time.Time) Alert {
	return Alert{ID: uuid.NewString(), Address: address, Type: alertType, Message: message, Severity: sev, Timestamp: ts}
}

// Handler receives published payloads. The payload is an Update for
// TopicUpdate and an Alert for TopicAlert.
type Handler func(topic Topic, payload any)

// Subscription is a detachable handle returned by Subscribe.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    uint64
}

// Unsubscribe detaches the handler. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.topic]
	for i, e := range subs {
		if e.id == s.id {
			s.bus.subs[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

type entry struct {
	id uint64
	fn Handler
}

// Bus is an in-process publish/subscribe hub with named topics.
// Handlers run synchronously on the publishing goroutine, in
// subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]entry
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]entry)}
}

// Subscribe attaches fn to topic.
func (b *Bus) Subscribe(topic Topic, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[topic] = append(b.subs[topic], entry{id: b.nextID, fn: fn})
	return &Subscription{bus: b, topic: topic, id: b.nextID}
}

// SubscribeAlerts is a typed convenience for the alert topic.
func (b *Bus) SubscribeAlerts(fn func(Alert)) *Subscription {
	return b.Subscribe(TopicAlert, func(_ Topic, p any) {
		if a, ok := p.(Alert); ok {
			fn(a)
		}
	})
}

// SubscribeUpdates is a typed convenience for the update topic.
func (b *Bus) SubscribeUpdates(fn func(Update)) *Subscription {
	return b.Subscribe(TopicUpdate, func(_ Topic, p any) {
		if u, ok := p.(Update); ok {
			fn(u)
		}
	})
}

// PublishUpdate delivers u to every update subscriber.
func (b *Bus) PublishUpdate(u Update) { b.publish(TopicUpdate, u) }

// PublishAlert delivers a to every alert subscriber.
func (b *Bus) PublishAlert(a Alert) { b.publish(TopicAlert, a) }

func (b *Bus) publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[topic]))
	for i, e := range b.subs[topic] {
		handlers[i] = e.fn
	}
	b.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(string(topic)).Inc()
	for _, fn := range handlers {
		fn(topic, payload)
	}
}

// Subscribers returns the number of handlers attached to topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
