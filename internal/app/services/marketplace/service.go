// Package marketplace implements the flat-price buy-now path: an
// owner-managed pricing table and a batch purchase that moves priced tokens
// straight from the custodian.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tokenhall/auctionhouse/internal/app/domain/market"
	"github.com/tokenhall/auctionhouse/internal/app/events"
	"github.com/tokenhall/auctionhouse/internal/app/services/balances"
	"github.com/tokenhall/auctionhouse/internal/app/services/custody"
	"github.com/tokenhall/auctionhouse/internal/app/storage"
	"github.com/tokenhall/auctionhouse/internal/chain"
	"github.com/tokenhall/auctionhouse/pkg/logger"
)

// Service errors.
var (
	ErrNotOwner       = errors.New("caller is not the owner")
	ErrNotForSale     = errors.New("token is not priced for sale")
	ErrTokenInAuction = errors.New("token is reserved by an open auction")
	ErrEmptyPurchase  = errors.New("purchase has no items")
	ErrInvalidPrice   = errors.New("price must be positive")
	ErrInvalidValue   = errors.New("attached value does not match the required shortfall")
	ErrTransferFailed = errors.New("external transfer failed")
)

// Config holds the marketplace parameters.
type Config struct {
	Owner     string
	Custodian string
}

// Service sells individually priced tokens at their listed price. Purchases
// share the auction engine's payment protocol and refuse units an open
// auction has reserved.
type Service struct {
	mu  sync.Mutex
	cfg Config

	store       storage.MarketStore
	balances    *balances.Ledger
	custody     *custody.Ledger
	collections chain.CollectionRegistry

	hub *events.Hub
	log *logger.Logger
}

// NewService wires the marketplace.
func NewService(cfg Config, store storage.MarketStore, balanceStore storage.BalanceStore, custodyLedger *custody.Ledger, collections chain.CollectionRegistry, hub *events.Hub, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("marketplace")
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Service{
		cfg:         cfg,
		store:       store,
		balances:    balances.NewLedger(balanceStore),
		custody:     custodyLedger,
		collections: collections,
		hub:         hub,
		log:         log,
	}
}

// SetPrice lists a token at a flat price, or updates an existing listing.
// Owner only.
func (s *Service) SetPrice(ctx context.Context, caller, tokenContract, tokenID string, price int64) (market.SalePrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if normAddr(caller) != normAddr(s.cfg.Owner) {
		return market.SalePrice{}, ErrNotOwner
	}
	if price <= 0 {
		return market.SalePrice{}, ErrInvalidPrice
	}

	entry, err := s.store.UpsertSalePrice(ctx, market.SalePrice{
		TokenContract: normAddr(tokenContract),
		TokenID:       tokenID,
		Price:         price,
	})
	if err != nil {
		return market.SalePrice{}, fmt.Errorf("upsert price: %w", err)
	}
	return entry, nil
}

// RemovePrice delists a token. Owner only.
func (s *Service) RemovePrice(ctx context.Context, caller, tokenContract, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if normAddr(caller) != normAddr(s.cfg.Owner) {
		return ErrNotOwner
	}
	if err := s.store.DeleteSalePrice(ctx, normAddr(tokenContract), tokenID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("token %s: %w", tokenID, ErrNotForSale)
		}
		return fmt.Errorf("delete price: %w", err)
	}
	return nil
}

// Price returns one listing.
func (s *Service) Price(ctx context.Context, tokenContract, tokenID string) (market.SalePrice, error) {
	entry, err := s.store.GetSalePrice(ctx, normAddr(tokenContract), tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return market.SalePrice{}, fmt.Errorf("token %s: %w", tokenID, ErrNotForSale)
		}
		return market.SalePrice{}, err
	}
	return entry, nil
}

// ListPrices returns every listing for a contract.
func (s *Service) ListPrices(ctx context.Context, tokenContract string) ([]market.SalePrice, error) {
	return s.store.ListSalePrices(ctx, normAddr(tokenContract))
}

// Purchases returns a buyer's purchase history.
func (s *Service) Purchases(ctx context.Context, buyer string) ([]market.Purchase, error) {
	return s.store.ListPurchases(ctx, normAddr(buyer))
}

// Buy purchases the listed tokens at their summed flat prices. The payment
// protocol matches bidding: the buyer's balance is consumed first and the
// attached value must equal the exact shortfall.
func (s *Service) Buy(ctx context.Context, buyer, tokenContract string, tokenIDs []string, attached int64) (market.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyer = normAddr(buyer)
	tokenContract = normAddr(tokenContract)

	if len(tokenIDs) == 0 {
		return market.Purchase{}, ErrEmptyPurchase
	}

	var total int64
	for _, id := range tokenIDs {
		if s.custody != nil && s.custody.IsReserved(tokenContract, id) {
			return market.Purchase{}, fmt.Errorf("token %s: %w", id, ErrTokenInAuction)
		}
		entry, err := s.store.GetSalePrice(ctx, tokenContract, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return market.Purchase{}, fmt.Errorf("token %s: %w", id, ErrNotForSale)
			}
			return market.Purchase{}, fmt.Errorf("read price: %w", err)
		}
		total += entry.Price
	}

	balance, err := s.balances.Balance(ctx, buyer)
	if err != nil {
		return market.Purchase{}, fmt.Errorf("read balance: %w", err)
	}
	fromBalance := total
	if balance < fromBalance {
		fromBalance = balance
	}
	if attached != total-fromBalance {
		return market.Purchase{}, fmt.Errorf("attached %d, need %d: %w", attached, total-fromBalance, ErrInvalidValue)
	}
	if _, err := s.balances.Consume(ctx, buyer, fromBalance); err != nil {
		return market.Purchase{}, fmt.Errorf("consume balance: %w", err)
	}
	restoreDebit := func() {
		if err := s.balances.Credit(ctx, buyer, fromBalance); err != nil {
			s.log.WithError(err).Error("Failed to restore balance during rollback")
		}
	}

	col, err := s.collections.Single(tokenContract)
	if err != nil {
		restoreDebit()
		return market.Purchase{}, err
	}
	custodian := normAddr(s.cfg.Custodian)
	var moved []string
	for _, id := range tokenIDs {
		if err := col.TransferFrom(ctx, custodian, buyer, id); err != nil {
			for _, back := range moved {
				if backErr := col.TransferFrom(ctx, buyer, custodian, back); backErr != nil {
					s.log.WithError(backErr).WithField("token_id", back).Error("Failed to return token during rollback")
				}
			}
			restoreDebit()
			return market.Purchase{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		moved = append(moved, id)
	}

	// Sold units leave the pricing table.
	for _, id := range tokenIDs {
		if err := s.store.DeleteSalePrice(ctx, tokenContract, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).WithField("token_id", id).Warn("Failed to delist sold token")
		}
	}

	purchase, err := s.store.CreatePurchase(ctx, market.Purchase{
		Buyer:         buyer,
		TokenContract: tokenContract,
		TokenIDs:      append([]string(nil), tokenIDs...),
		Total:         total,
	})
	if err != nil {
		return market.Purchase{}, fmt.Errorf("record purchase: %w", err)
	}

	s.hub.Publish(events.Event{
		Type:    events.TypeTokenPurchased,
		Address: buyer,
		Amount:  total,
		Metadata: map[string]string{
			"purchase_id": purchase.ID,
			"contract":    tokenContract,
		},
	})
	s.log.WithField("buyer", buyer).WithField("items", len(tokenIDs)).WithField("total", total).Info("Purchase completed")
	return purchase, nil
}

func normAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
