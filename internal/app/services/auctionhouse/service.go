// Package auctionhouse implements the auction lifecycle engine: the
// per-auction state machine, bidding with anti-snipe extension, the
// pull-payment protocol, custody reservation bookkeeping, and outbid-reward
// accrual and payout.
package auctionhouse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/events"
	"github.com/tokenhall/auctionhouse/internal/app/metrics"
	"github.com/tokenhall/auctionhouse/internal/app/services/balances"
	"github.com/tokenhall/auctionhouse/internal/app/services/custody"
	"github.com/tokenhall/auctionhouse/internal/app/storage"
	"github.com/tokenhall/auctionhouse/internal/chain"
	"github.com/tokenhall/auctionhouse/internal/config"
	"github.com/tokenhall/auctionhouse/pkg/logger"
)

// Meter is the participation metering collaborator. Burn failures abort the
// enclosing operation; Mint restores tickets when a later step fails.
type Meter interface {
	Burn(ctx context.Context, holder, kind string, amount int64) error
	Mint(ctx context.Context, holder, kind string, amount int64) error
}

// Params bundles the engine's collaborators.
type Params struct {
	Config      config.AuctionConfig
	Auctions    storage.AuctionStore
	Balances    storage.BalanceStore
	Meter       Meter
	Collections chain.CollectionRegistry
	Treasury    chain.Treasury
	Events      *events.Hub
	Logger      *logger.Logger

	// Now overrides the clock. Tests use it to cross time thresholds.
	Now func() time.Time
}

// Service is the auction lifecycle engine. One mutex serializes every
// mutating operation; the per-auction guarantees all assume that total order.
type Service struct {
	mu  sync.Mutex
	cfg config.AuctionConfig

	auctions storage.AuctionStore
	balances *balances.Ledger
	custody  *custody.Ledger

	meter       Meter
	collections chain.CollectionRegistry
	treasury    chain.Treasury

	hub *events.Hub
	log *logger.Logger
	now func() time.Time

	activeCount int
}

// NewService wires the engine and rebuilds the custody ledger from the
// Active auctions already in the registry.
func NewService(ctx context.Context, p Params) (*Service, error) {
	if p.Auctions == nil {
		return nil, fmt.Errorf("auction store is required")
	}
	if p.Balances == nil {
		return nil, fmt.Errorf("balance store is required")
	}
	if p.Collections == nil {
		return nil, fmt.Errorf("collection registry is required")
	}
	if p.Treasury == nil {
		return nil, fmt.Errorf("treasury is required")
	}
	if p.Logger == nil {
		p.Logger = logger.NewDefault("auctionhouse")
	}
	if p.Events == nil {
		p.Events = events.NewHub(0)
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	s := &Service{
		cfg:         p.Config,
		auctions:    p.Auctions,
		balances:    balances.NewLedger(p.Balances),
		custody:     custody.NewLedger(),
		meter:       p.Meter,
		collections: p.Collections,
		treasury:    p.Treasury,
		hub:         p.Events,
		log:         p.Logger,
		now:         p.Now,
	}

	active, err := p.Auctions.ListAuctionsByStatus(ctx, auction.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active auctions: %w", err)
	}
	if err := s.custody.Load(active); err != nil {
		return nil, fmt.Errorf("rebuild custody ledger: %w", err)
	}
	s.activeCount = len(active)
	metrics.SetActiveAuctions(s.activeCount)

	s.log.WithField("active_auctions", s.activeCount).Info("Auction engine initialized")
	return s, nil
}

// Events returns the engine's event hub.
func (s *Service) Events() *events.Hub {
	return s.hub
}

// Custody returns the engine's reservation ledger so sibling services can
// refuse units an open auction holds.
func (s *Service) Custody() *custody.Ledger {
	return s.custody
}

// Settings returns a snapshot of the current auction parameters.
func (s *Service) Settings() config.AuctionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// GetAuction returns one auction record.
func (s *Service) GetAuction(ctx context.Context, id int64) (auction.Auction, error) {
	rec, err := s.auctions.GetAuction(ctx, id)
	if err != nil {
		return auction.Auction{}, fmt.Errorf("auction %d: %w", id, ErrAuctionNotFound)
	}
	return rec, nil
}

// ListAuctions returns every auction record.
func (s *Service) ListAuctions(ctx context.Context) ([]auction.Auction, error) {
	return s.auctions.ListAuctions(ctx)
}

// ListAuctionsByStatus returns auctions in one status.
func (s *Service) ListAuctionsByStatus(ctx context.Context, status auction.Status) ([]auction.Auction, error) {
	return s.auctions.ListAuctionsByStatus(ctx, status)
}

// Balance returns a caller's pull-payment balance.
func (s *Service) Balance(ctx context.Context, addr string) (int64, error) {
	return s.balances.Balance(ctx, normAddr(addr))
}

// RewardsFor sums the bidder's accrued rewards across the given auctions.
// Only Claimed auctions count; rewards on auctions that have not settled are
// not yet final.
func (s *Service) RewardsFor(ctx context.Context, bidder string, auctionIDs []int64) (int64, error) {
	bidder = normAddr(bidder)

	var total int64
	for _, id := range auctionIDs {
		rec, err := s.auctions.GetAuction(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("auction %d: %w", id, ErrAuctionNotFound)
		}
		if rec.Status != auction.StatusClaimed {
			continue
		}
		total += rec.Rewards[bidder]
	}
	return total, nil
}

// debit applies the payment protocol: consume as much of the payment as the
// caller's balance covers, then require attached to equal the exact
// shortfall. Returns how much was taken from the balance so a failing caller
// can restore it.
func (s *Service) debit(ctx context.Context, caller string, payment, attached int64) (int64, error) {
	balance, err := s.balances.Balance(ctx, caller)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	fromBalance := payment
	if balance < fromBalance {
		fromBalance = balance
	}
	if attached != payment-fromBalance {
		return 0, fmt.Errorf("attached %d, need %d: %w", attached, payment-fromBalance, ErrInvalidValue)
	}

	used, err := s.balances.Consume(ctx, caller, fromBalance)
	if err != nil {
		return 0, fmt.Errorf("consume balance: %w", err)
	}
	return used, nil
}

// restoreDebit puts back a consumed balance after a later step fails.
func (s *Service) restoreDebit(ctx context.Context, caller string, amount int64) {
	if amount == 0 {
		return
	}
	if err := s.balances.Credit(ctx, caller, amount); err != nil {
		s.log.WithError(err).WithField("address", caller).Error("Failed to restore balance after rollback")
	}
}

// burnTickets meters participation cost of one kind, skipping zero costs.
func (s *Service) burnTickets(ctx context.Context, holder, kind string, cost int64) error {
	if s.meter == nil || cost <= 0 {
		return nil
	}
	return s.meter.Burn(ctx, holder, kind, cost)
}

// remintTickets restores burned tickets after a later step fails.
func (s *Service) remintTickets(ctx context.Context, holder, kind string, cost int64) {
	if s.meter == nil || cost <= 0 {
		return
	}
	if err := s.meter.Mint(ctx, holder, kind, cost); err != nil {
		s.log.WithError(err).WithField("holder", holder).Error("Failed to restore tickets after rollback")
	}
}

func (s *Service) setActiveCount(n int) {
	s.activeCount = n
	metrics.SetActiveAuctions(n)
}

func normAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
