// Package custody tracks which token units are reserved by open auctions.
// A unit may be reserved by at most one auction at a time; reserving twice or
// releasing twice is an error so lifecycle bugs surface immediately.
package custody

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
)

// Reservation records the auction holding a unit and the quantity listed.
type Reservation struct {
	AuctionID int64
	Quantity  int64
}

// Ledger is the in-process custody reservation table. It is rebuilt from the
// Active auctions in the registry on startup.
type Ledger struct {
	mu       sync.RWMutex
	reserved map[string]Reservation
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{reserved: make(map[string]Reservation)}
}

// Load seeds the ledger from existing auction records. Only Active auctions
// contribute reservations.
func (l *Ledger) Load(records []auction.Auction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range records {
		if rec.Status != auction.StatusActive {
			continue
		}
		for _, item := range rec.Items {
			key := unitKey(rec.TokenContract, item.TokenID)
			if prior, ok := l.reserved[key]; ok {
				return fmt.Errorf("unit %s reserved by auctions %d and %d", key, prior.AuctionID, rec.ID)
			}
			l.reserved[key] = Reservation{AuctionID: rec.ID, Quantity: item.Quantity}
		}
	}
	return nil
}

// Reserve marks a unit as held by an auction. Fails if any auction already
// holds it.
func (l *Ledger) Reserve(contract, tokenID string, auctionID, quantity int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := unitKey(contract, tokenID)
	if prior, ok := l.reserved[key]; ok {
		return fmt.Errorf("unit %s already reserved by auction %d", key, prior.AuctionID)
	}
	l.reserved[key] = Reservation{AuctionID: auctionID, Quantity: quantity}
	return nil
}

// Release removes a unit's reservation. Fails if the unit is not reserved or
// is reserved by a different auction.
func (l *Ledger) Release(contract, tokenID string, auctionID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := unitKey(contract, tokenID)
	prior, ok := l.reserved[key]
	if !ok {
		return fmt.Errorf("unit %s is not reserved", key)
	}
	if prior.AuctionID != auctionID {
		return fmt.Errorf("unit %s reserved by auction %d, not %d", key, prior.AuctionID, auctionID)
	}
	delete(l.reserved, key)
	return nil
}

// IsReserved reports whether any auction holds the unit.
func (l *Ledger) IsReserved(contract, tokenID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.reserved[unitKey(contract, tokenID)]
	return ok
}

// ReservedBy returns the reservation for a unit, if any.
func (l *Ledger) ReservedBy(contract, tokenID string) (Reservation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.reserved[unitKey(contract, tokenID)]
	return res, ok
}

// Count returns the number of reserved units.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.reserved)
}

func unitKey(contract, tokenID string) string {
	return strings.ToLower(strings.TrimSpace(contract)) + "/" + tokenID
}
