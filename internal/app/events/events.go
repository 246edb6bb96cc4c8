// Package events publishes auction lifecycle events to in-process
// subscribers and keeps a bounded history for the read API.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies the kind of auction event.
type Type string

const (
	TypeAuctionStarted   Type = "auction.started"
	TypeBidPlaced        Type = "auction.bid_placed"
	TypeAuctionExtended  Type = "auction.extended"
	TypeAuctionClaimed   Type = "auction.claimed"
	TypeAuctionRefunded  Type = "auction.refunded"
	TypeAuctionAbandoned Type = "auction.abandoned"
	TypeAuctionWithdrawn Type = "auction.withdrawn"
	TypeBalanceWithdrawn Type = "balance.withdrawn"
	TypeTokenPurchased   Type = "market.purchased"
)

// Event is a published auction occurrence. Amount and EndTime are set only
// where meaningful for the type.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	AuctionID int64     `json:"auction_id,omitempty"`
	Address   string    `json:"address,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// String returns the event as JSON.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes published events.
type Handler func(Event)

// Hub is a thread-safe publish/subscribe hub backed by a circular history
// buffer.
type Hub struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	handler Handler
}

// NewHub creates a hub keeping the most recent size events.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 1000
	}
	return &Hub{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish stores the event and notifies subscribers.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = event.Timestamp.Format("20060102150405.000000000")
	}

	h.events[h.head] = event
	h.head = (h.head + 1) % h.size
	if h.count < h.size {
		h.count++
	}

	handlers := make([]handlerEntry, len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.Unlock()

	// Notify handlers outside the lock
	for _, entry := range handlers {
		entry.handler(event)
	}
}

// Subscribe registers a handler for all events and returns an unsubscribe
// function.
func (h *Hub) Subscribe(handler Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers = append(h.handlers, handlerEntry{id: id, handler: handler})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.handlers {
			if entry.id == id {
				h.handlers = append(h.handlers[:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events in reverse chronological order.
func (h *Hub) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || h.count == 0 {
		return nil
	}
	if n > h.count {
		n = h.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (h.head - 1 - i + h.size) % h.size
		result[i] = h.events[idx]
	}
	return result
}

// RecentByAuction returns recent events for one auction.
func (h *Hub) RecentByAuction(auctionID int64, n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || h.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < h.count && len(result) < n; i++ {
		idx := (h.head - 1 - i + h.size) % h.size
		if h.events[idx].AuctionID == auctionID {
			result = append(result, h.events[idx])
		}
	}
	return result
}

// RecentByType returns recent events of one type.
func (h *Hub) RecentByType(eventType Type, n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || h.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < h.count && len(result) < n; i++ {
		idx := (h.head - 1 - i + h.size) % h.size
		if h.events[idx].Type == eventType {
			result = append(result, h.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
