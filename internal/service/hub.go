// Package service holds the in-process relay event hub and sink fan-out.
package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// DefaultHistory is the number of recent events a Hub replays to new subscribers.
const DefaultHistory = 200

// Subscription receives live relay events.
type Subscription struct {
	C  <-chan *model.RelayEvent
	ch chan *model.RelayEvent
	id uint64
}

// Hub fans relay events out to in-process subscribers and keeps a short
// history for replay. Slow subscribers drop events rather than block the relay.
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	history []*model.RelayEvent
	limit   int
	logger  *logger.Logger
}

// NewHub creates a hub that retains up to history events.
func NewHub(history int, log *logger.Logger) *Hub {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		limit:  history,
		logger: log,
	}
}

// Publish records ev and delivers it to every subscriber.
func (h *Hub) Publish(ctx context.Context, ev *model.RelayEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, ev)
	if over := len(h.history) - h.limit; over > 0 {
		h.history = append([]*model.RelayEvent(nil), h.history[over:]...)
	}

	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping relay event for slow subscriber",
				zap.Uint64("subscription", sub.id),
				zap.String("event_id", ev.ID),
			)
		}
	}
	return nil
}

// Subscribe registers a subscriber and returns it with the current history,
// oldest first.
func (h *Hub) Subscribe(buffer int) (*Subscription, []*model.RelayEvent) {
	if buffer <= 0 {
		buffer = 16
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan *model.RelayEvent, buffer)
	sub := &Subscription{C: ch, ch: ch, id: h.nextID}
	h.subs[sub.id] = sub

	return sub, append([]*model.RelayEvent(nil), h.history...)
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
