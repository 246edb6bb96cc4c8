package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/domain/market"
	"github.com/tokenhall/auctionhouse/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	nextAuctionID int64
	auctions      map[int64]auction.Auction
	balances      map[string]int64
	salePrices    map[string]market.SalePrice
	purchases     []market.Purchase
	tickets       map[string]int64
}

var _ storage.AuctionStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)
var _ storage.MarketStore = (*Store)(nil)
var _ storage.TicketStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextAuctionID: 1,
		auctions:      make(map[int64]auction.Auction),
		balances:      make(map[string]int64),
		salePrices:    make(map[string]market.SalePrice),
		tickets:       make(map[string]int64),
	}
}

// AuctionStore implementation -------------------------------------------------

func (s *Store) CreateAuction(_ context.Context, rec auction.Auction) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextAuctionID
	s.nextAuctionID++

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.auctions[rec.ID] = rec.Clone()
	return rec.Clone(), nil
}

func (s *Store) UpdateAuction(_ context.Context, rec auction.Auction) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.auctions[rec.ID]
	if !ok {
		return auction.Auction{}, fmt.Errorf("auction %d: %w", rec.ID, storage.ErrNotFound)
	}

	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()

	s.auctions[rec.ID] = rec.Clone()
	return rec.Clone(), nil
}

func (s *Store) GetAuction(_ context.Context, id int64) (auction.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.auctions[id]
	if !ok {
		return auction.Auction{}, fmt.Errorf("auction %d: %w", id, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) ListAuctions(_ context.Context) ([]auction.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]auction.Auction, 0, len(s.auctions))
	for _, rec := range s.auctions {
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListAuctionsByStatus(_ context.Context, status auction.Status) ([]auction.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]auction.Auction, 0)
	for _, rec := range s.auctions {
		if rec.Status == status {
			result = append(result, rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// BalanceStore implementation -------------------------------------------------

func (s *Store) GetBalance(_ context.Context, addr string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[balanceKey(addr)], nil
}

func (s *Store) SetBalance(_ context.Context, addr string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < 0 {
		return fmt.Errorf("balance for %s cannot be negative", addr)
	}
	key := balanceKey(addr)
	if amount == 0 {
		delete(s.balances, key)
		return nil
	}
	s.balances[key] = amount
	return nil
}

func (s *Store) ListBalances(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int64, len(s.balances))
	for addr, amount := range s.balances {
		result[addr] = amount
	}
	return result, nil
}

// MarketStore implementation --------------------------------------------------

func (s *Store) UpsertSalePrice(_ context.Context, price market.SalePrice) (market.SalePrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price.UpdatedAt = time.Now().UTC()
	s.salePrices[saleKey(price.TokenContract, price.TokenID)] = price
	return price, nil
}

func (s *Store) GetSalePrice(_ context.Context, contract, tokenID string) (market.SalePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.salePrices[saleKey(contract, tokenID)]
	if !ok {
		return market.SalePrice{}, fmt.Errorf("sale price for %s/%s: %w", contract, tokenID, storage.ErrNotFound)
	}
	return price, nil
}

func (s *Store) DeleteSalePrice(_ context.Context, contract, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := saleKey(contract, tokenID)
	if _, ok := s.salePrices[key]; !ok {
		return fmt.Errorf("sale price for %s/%s: %w", contract, tokenID, storage.ErrNotFound)
	}
	delete(s.salePrices, key)
	return nil
}

func (s *Store) ListSalePrices(_ context.Context, contract string) ([]market.SalePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]market.SalePrice, 0)
	for _, price := range s.salePrices {
		if contract == "" || strings.EqualFold(price.TokenContract, contract) {
			result = append(result, price)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TokenContract != result[j].TokenContract {
			return result[i].TokenContract < result[j].TokenContract
		}
		return result[i].TokenID < result[j].TokenID
	})
	return result, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase market.Purchase) (market.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	purchase.CreatedAt = time.Now().UTC()
	purchase.TokenIDs = append([]string(nil), purchase.TokenIDs...)

	s.purchases = append(s.purchases, purchase)
	return purchase, nil
}

func (s *Store) ListPurchases(_ context.Context, buyer string) ([]market.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]market.Purchase, 0)
	for _, purchase := range s.purchases {
		if buyer == "" || strings.EqualFold(purchase.Buyer, buyer) {
			clone := purchase
			clone.TokenIDs = append([]string(nil), purchase.TokenIDs...)
			result = append(result, clone)
		}
	}
	return result, nil
}

// TicketStore implementation --------------------------------------------------

func (s *Store) GetTicketBalance(_ context.Context, holder, kind string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tickets[ticketKey(holder, kind)], nil
}

func (s *Store) SetTicketBalance(_ context.Context, holder, kind string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < 0 {
		return fmt.Errorf("ticket balance for %s/%s cannot be negative", holder, kind)
	}
	key := ticketKey(holder, kind)
	if amount == 0 {
		delete(s.tickets, key)
		return nil
	}
	s.tickets[key] = amount
	return nil
}

// Helpers --------------------------------------------------------------------

func balanceKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func saleKey(contract, tokenID string) string {
	return strings.ToLower(strings.TrimSpace(contract)) + "/" + tokenID
}

func ticketKey(holder, kind string) string {
	return strings.ToLower(strings.TrimSpace(holder)) + "/" + kind
}
