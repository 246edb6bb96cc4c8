// Package tickets meters auction participation. Starting an auction and
// bidding each burn a ticket of the matching kind; only the owner mints.
package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokenhall/auctionhouse/internal/app/storage"
	"github.com/tokenhall/auctionhouse/pkg/logger"
)

// Ticket kinds.
const (
	KindStart = "start"
	KindBid   = "bid"
)

// Service errors.
var (
	ErrInsufficientTickets = errors.New("insufficient ticket balance")
	ErrInvalidKind         = errors.New("invalid ticket kind")
	ErrInvalidAmount       = errors.New("ticket amount must be positive")
)

// Service manages ticket balances over a TicketStore.
type Service struct {
	store storage.TicketStore
	log   *logger.Logger
}

// NewService creates the ticket service.
func NewService(store storage.TicketStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tickets")
	}
	return &Service{store: store, log: log}
}

// Balance returns the holder's balance for a kind, zero if none.
func (s *Service) Balance(ctx context.Context, holder, kind string) (int64, error) {
	if err := validKind(kind); err != nil {
		return 0, err
	}
	return s.store.GetTicketBalance(ctx, holder, kind)
}

// Mint credits tickets to a holder. Caller authorization is enforced at the
// API layer.
func (s *Service) Mint(ctx context.Context, holder, kind string, amount int64) error {
	if err := validKind(kind); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	current, err := s.store.GetTicketBalance(ctx, holder, kind)
	if err != nil {
		return fmt.Errorf("read ticket balance: %w", err)
	}
	if err := s.store.SetTicketBalance(ctx, holder, kind, current+amount); err != nil {
		return fmt.Errorf("write ticket balance: %w", err)
	}

	s.log.WithField("holder", holder).WithField("kind", kind).WithField("amount", amount).Info("Minted tickets")
	return nil
}

// Burn consumes tickets from a holder. Fails with ErrInsufficientTickets when
// the balance does not cover the amount.
func (s *Service) Burn(ctx context.Context, holder, kind string, amount int64) error {
	if err := validKind(kind); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	current, err := s.store.GetTicketBalance(ctx, holder, kind)
	if err != nil {
		return fmt.Errorf("read ticket balance: %w", err)
	}
	if current < amount {
		return fmt.Errorf("%s holds %d %s tickets, need %d: %w", holder, current, kind, amount, ErrInsufficientTickets)
	}
	if err := s.store.SetTicketBalance(ctx, holder, kind, current-amount); err != nil {
		return fmt.Errorf("write ticket balance: %w", err)
	}
	return nil
}

func validKind(kind string) error {
	switch kind {
	case KindStart, KindBid:
		return nil
	}
	return fmt.Errorf("%q: %w", kind, ErrInvalidKind)
}
