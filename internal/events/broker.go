// Package events fans committed game events out to live subscribers, such
// as websocket clients watching a team's board.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"beergame/internal/game"
)

// DefaultBuffer is the per-subscriber queue length. A subscriber that falls
// this far behind loses events rather than blocking publishers.
const DefaultBuffer = 32

// Message is an event as delivered to subscribers.
type Message struct {
	ID     string     `json:"id"`
	Origin string     `json:"origin"`
	At     time.Time  `json:"at"`
	Event  game.Event `json:"event"`
}

// Subscription receives messages until Close is called.
type Subscription struct {
	ID     string
	C      <-chan Message
	team   string
	ch     chan Message
	broker *Broker
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s.ID)
	})
}

// Broker is an in-process publish/subscribe hub.
type Broker struct {
	origin string
	log    *slog.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription
}

var _ game.Observer = (*Broker)(nil)

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		origin: uuid.NewString(),
		log:    logger,
		subs:   make(map[string]*Subscription),
	}
}

// Origin identifies this process in messages it creates.
func (b *Broker) Origin() string {
	return b.origin
}

// Subscribe registers a subscriber. An empty team receives every event;
// otherwise events of other teams are skipped. Game-wide events (settings,
// reset) reach everyone.
func (b *Broker) Subscribe(team string) *Subscription {
	ch := make(chan Message, DefaultBuffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, team: team, ch: ch, broker: b}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Observe wraps a committed game event and publishes it.
func (b *Broker) Observe(_ context.Context, ev game.Event) {
	b.Publish(b.NewMessage(ev))
}

func (b *Broker) NewMessage(ev game.Event) Message {
	return Message{ID: uuid.NewString(), Origin: b.origin, At: time.Now().UTC(), Event: ev}
}

// Publish delivers msg to every matching subscriber without blocking.
func (b *Broker) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.team != "" && msg.Event.Team != "" && sub.team != msg.Event.Team {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.log.Warn("subscriber too slow, dropping event", "subscriber", sub.ID, "kind", msg.Event.Kind)
		}
	}
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
