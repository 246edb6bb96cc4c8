package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHub_Publish(t *testing.T) {
	hub := NewHub(10)

	hub.Publish(Event{Type: TypeBidPlaced, AuctionID: 1, Address: "alice", Amount: 500})

	if hub.Count() != 1 {
		t.Errorf("Count() = %d, want 1", hub.Count())
	}

	recent := hub.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Recent(1) len = %d, want 1", len(recent))
	}
	if recent[0].Address != "alice" {
		t.Errorf("Address = %q, want 'alice'", recent[0].Address)
	}
	if recent[0].ID == "" {
		t.Error("ID should be auto-generated")
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("Timestamp should be auto-set")
	}
}

func TestHub_Overflow(t *testing.T) {
	hub := NewHub(5)

	for i := int64(1); i <= 10; i++ {
		hub.Publish(Event{Type: TypeBidPlaced, AuctionID: i})
	}

	if hub.Count() != 5 {
		t.Errorf("Count() = %d, want 5 (capped)", hub.Count())
	}

	recent := hub.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("Recent(5) len = %d, want 5", len(recent))
	}

	// Most recent first
	if recent[0].AuctionID != 10 {
		t.Errorf("most recent auction = %d, want 10", recent[0].AuctionID)
	}
	if recent[4].AuctionID != 6 {
		t.Errorf("oldest auction = %d, want 6", recent[4].AuctionID)
	}
}

func TestHub_RecentBounds(t *testing.T) {
	hub := NewHub(10)

	for i := 0; i < 5; i++ {
		hub.Publish(Event{Type: TypeBidPlaced})
	}

	if got := hub.Recent(100); len(got) != 5 {
		t.Errorf("Recent(100) len = %d, want 5", len(got))
	}
	if got := hub.Recent(0); got != nil {
		t.Error("Recent(0) should return nil")
	}
	if got := hub.Recent(-1); got != nil {
		t.Error("Recent(-1) should return nil")
	}
}

func TestHub_RecentByAuction(t *testing.T) {
	hub := NewHub(100)

	hub.Publish(Event{Type: TypeAuctionStarted, AuctionID: 1})
	hub.Publish(Event{Type: TypeAuctionStarted, AuctionID: 2})
	hub.Publish(Event{Type: TypeBidPlaced, AuctionID: 1})
	hub.Publish(Event{Type: TypeBidPlaced, AuctionID: 2})
	hub.Publish(Event{Type: TypeAuctionClaimed, AuctionID: 1})

	recent := hub.RecentByAuction(1, 10)
	if len(recent) != 3 {
		t.Errorf("len = %d, want 3", len(recent))
	}
	for _, e := range recent {
		if e.AuctionID != 1 {
			t.Errorf("AuctionID = %d, want 1", e.AuctionID)
		}
	}
}

func TestHub_RecentByType(t *testing.T) {
	hub := NewHub(100)

	hub.Publish(Event{Type: TypeAuctionStarted, AuctionID: 1})
	hub.Publish(Event{Type: TypeBidPlaced, AuctionID: 1})
	hub.Publish(Event{Type: TypeAuctionStarted, AuctionID: 2})
	hub.Publish(Event{Type: TypeAuctionClaimed, AuctionID: 1})

	recent := hub.RecentByType(TypeAuctionStarted, 10)
	if len(recent) != 2 {
		t.Errorf("len = %d, want 2", len(recent))
	}
	for _, e := range recent {
		if e.Type != TypeAuctionStarted {
			t.Errorf("Type = %v, want TypeAuctionStarted", e.Type)
		}
	}
}

func TestHub_Subscribe(t *testing.T) {
	hub := NewHub(10)

	var received []Event
	var mu sync.Mutex

	unsubscribe := hub.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	hub.Publish(Event{Type: TypeAuctionStarted, AuctionID: 1})
	hub.Publish(Event{Type: TypeBidPlaced, AuctionID: 1})

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("received %d events, want 2", len(received))
	}
	mu.Unlock()

	unsubscribe()

	hub.Publish(Event{Type: TypeAuctionClaimed, AuctionID: 1})

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("received %d events after unsubscribe, want 2", len(received))
	}
	mu.Unlock()
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub(1000)

	var wg sync.WaitGroup
	var receivedCount atomic.Int64

	hub.Subscribe(func(e Event) {
		receivedCount.Add(1)
	})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Publish(Event{Type: TypeBidPlaced, AuctionID: id})
			}
		}(int64(i))
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Recent(10)
				_ = hub.RecentByType(TypeBidPlaced, 5)
				time.Sleep(time.Microsecond)
			}
		}()
	}

	wg.Wait()

	if hub.Count() != 1000 {
		t.Errorf("Count() = %d, want 1000", hub.Count())
	}
	if receivedCount.Load() != 1000 {
		t.Errorf("receivedCount = %d, want 1000", receivedCount.Load())
	}
}

func TestEvent_String(t *testing.T) {
	e := Event{Type: TypeBidPlaced, AuctionID: 3, Address: "alice"}

	str := e.String()
	if str == "" || str[0] != '{' {
		t.Errorf("String() = %q, want JSON object", str)
	}
}
