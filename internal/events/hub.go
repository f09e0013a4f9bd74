package events

import (
	"context"
	"sync"

	"github.com/xtrntr/marketplace/internal/models"
)

// Subscription receives broadcast trades until it is unsubscribed
type Subscription struct {
	C <-chan models.Trade
	ch chan models.Trade
}

// Hub broadcasts trades to in-process subscribers such as websocket
// clients. Slow subscribers miss trades rather than block the hub.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer
func (h *Hub) Subscribe(buffer int) *Subscription {
	ch := make(chan models.Trade, buffer)
	sub := &Subscription{C: ch, ch: ch}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Name() string { return "hub" }

// Publish broadcasts the trade. It never blocks.
func (h *Hub) Publish(_ context.Context, trade models.Trade) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- trade:
		default:
		}
	}
	return nil
}

func (h *Hub) Close() error { return nil }
