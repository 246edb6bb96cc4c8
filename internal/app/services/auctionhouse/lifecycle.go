package auctionhouse

import (
	"context"
	"fmt"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/events"
	"github.com/tokenhall/auctionhouse/internal/app/metrics"
	"github.com/tokenhall/auctionhouse/internal/app/services/tickets"
)

// StartRequest describes a new auction listing. Quantities is ignored for
// single-unit batches and must match TokenIDs in length for multi-unit ones.
type StartRequest struct {
	Caller        string
	Kind          auction.Kind
	TokenContract string
	TokenIDs      []string
	Quantities    []int64
	StartingBid   int64

	// Attached is the value sent with the call. It must equal the part of
	// the starting bid not covered by the caller's balance.
	Attached int64
}

// Start lists a token batch for auction. The caller pays the starting bid and
// becomes the initial highest bidder; every listed unit is reserved in the
// custody ledger. The whole operation commits or none of it does.
func (s *Service) Start(ctx context.Context, req StartRequest) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller := normAddr(req.Caller)

	items, err := s.validateBatch(req)
	if err != nil {
		metrics.RecordTransition("start", false)
		return auction.Auction{}, err
	}
	if req.StartingBid < s.cfg.MinStartingBid {
		metrics.RecordTransition("start", false)
		return auction.Auction{}, fmt.Errorf("starting bid %d, minimum %d: %w", req.StartingBid, s.cfg.MinStartingBid, ErrStartPriceTooLow)
	}
	if err := s.validateHoldings(ctx, req.Kind, req.TokenContract, items); err != nil {
		metrics.RecordTransition("start", false)
		return auction.Auction{}, err
	}

	fromBalance, err := s.debit(ctx, caller, req.StartingBid, req.Attached)
	if err != nil {
		metrics.RecordTransition("start", false)
		return auction.Auction{}, err
	}

	if err := s.burnTickets(ctx, caller, tickets.KindStart, s.cfg.StartTicketCost); err != nil {
		s.restoreDebit(ctx, caller, fromBalance)
		metrics.RecordTransition("start", false)
		return auction.Auction{}, fmt.Errorf("meter start: %w", err)
	}

	now := s.now()
	rec := auction.Auction{
		Kind:          req.Kind,
		TokenContract: normAddr(req.TokenContract),
		EndTime:       now.Add(s.cfg.Duration),
		ItemCount:     len(items),
		Status:        auction.StatusActive,
		HighestBidder: caller,
		HighestBid:    req.StartingBid,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := s.auctions.CreateAuction(ctx, rec)
	if err != nil {
		s.remintTickets(ctx, caller, tickets.KindStart, s.cfg.StartTicketCost)
		s.restoreDebit(ctx, caller, fromBalance)
		metrics.RecordTransition("start", false)
		return auction.Auction{}, fmt.Errorf("create auction: %w", err)
	}

	var reserved []auction.Item
	for _, item := range items {
		if err := s.custody.Reserve(created.TokenContract, item.TokenID, created.ID, item.Quantity); err != nil {
			for _, done := range reserved {
				if relErr := s.custody.Release(created.TokenContract, done.TokenID, created.ID); relErr != nil {
					s.log.WithError(relErr).Error("Failed to release reservation during rollback")
				}
			}
			s.remintTickets(ctx, caller, tickets.KindStart, s.cfg.StartTicketCost)
			s.restoreDebit(ctx, caller, fromBalance)
			metrics.RecordTransition("start", false)
			return auction.Auction{}, fmt.Errorf("token %s: %w", item.TokenID, ErrTokenAlreadyInAuction)
		}
		reserved = append(reserved, item)
	}

	s.setActiveCount(s.activeCount + 1)
	metrics.RecordTransition("start", true)
	s.hub.Publish(events.Event{
		Type:      events.TypeAuctionStarted,
		AuctionID: created.ID,
		Address:   caller,
		Amount:    created.HighestBid,
		EndTime:   created.EndTime,
	})
	s.log.WithField("auction_id", created.ID).
		WithField("starter", caller).
		WithField("starting_bid", created.HighestBid).
		Info("Auction started")
	return created, nil
}

// Bid places a strictly increasing bid. The outgoing leader's bid becomes
// pull-withdrawable immediately and their outbid reward accrues on the
// auction; a bid inside the anti-snipe window pushes the end time out.
func (s *Service) Bid(ctx context.Context, caller string, auctionID, amount, attached int64) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller = normAddr(caller)

	rec, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, fmt.Errorf("auction %d: %w", auctionID, ErrAuctionNotFound)
	}
	if rec.Status != auction.StatusActive {
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, statusError(rec.Status)
	}

	now := s.now()
	if now.After(rec.EndTime) {
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, ErrAuctionEnded
	}
	if caller == rec.HighestBidder {
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, ErrIsHighestBidder
	}
	if amount < rec.HighestBid+s.cfg.MinBidIncrement {
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, fmt.Errorf("bid %d, need at least %d: %w", amount, rec.HighestBid+s.cfg.MinBidIncrement, ErrBidTooLow)
	}

	fromBalance, err := s.debit(ctx, caller, amount, attached)
	if err != nil {
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, err
	}

	if err := s.burnTickets(ctx, caller, tickets.KindBid, s.cfg.BidTicketCost); err != nil {
		s.restoreDebit(ctx, caller, fromBalance)
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, fmt.Errorf("meter bid: %w", err)
	}

	// The displaced leader's bid becomes withdrawable immediately.
	outbid := rec.HighestBidder
	outbidAmount := rec.HighestBid
	if err := s.balances.Credit(ctx, outbid, outbidAmount); err != nil {
		s.remintTickets(ctx, caller, tickets.KindBid, s.cfg.BidTicketCost)
		s.restoreDebit(ctx, caller, fromBalance)
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, fmt.Errorf("credit outbid leader: %w", err)
	}

	delta := amount - outbidAmount
	reward := delta * int64(s.cfg.RewardPercent) / 100
	if rec.Rewards == nil {
		rec.Rewards = make(map[string]int64)
	}
	if _, seen := rec.Rewards[outbid]; !seen {
		rec.RewardOrder = append(rec.RewardOrder, outbid)
	}
	rec.Rewards[outbid] += reward

	extended := false
	if !now.Before(rec.EndTime.Add(-s.cfg.AntiSnipeWindow)) {
		rec.EndTime = rec.EndTime.Add(s.cfg.AntiSnipeWindow)
		extended = true
	}

	rec.HighestBidder = caller
	rec.HighestBid = amount
	rec.UpdatedAt = now

	updated, err := s.auctions.UpdateAuction(ctx, rec)
	if err != nil {
		if _, cErr := s.balances.Consume(ctx, outbid, outbidAmount); cErr != nil {
			s.log.WithError(cErr).Error("Failed to reclaim outbid credit during rollback")
		}
		s.remintTickets(ctx, caller, tickets.KindBid, s.cfg.BidTicketCost)
		s.restoreDebit(ctx, caller, fromBalance)
		metrics.RecordTransition("bid", false)
		return auction.Auction{}, fmt.Errorf("update auction: %w", err)
	}

	metrics.RecordTransition("bid", true)
	metrics.RecordBid(amount)
	s.hub.Publish(events.Event{
		Type:      events.TypeBidPlaced,
		AuctionID: updated.ID,
		Address:   caller,
		Amount:    amount,
		EndTime:   updated.EndTime,
	})
	if extended {
		s.hub.Publish(events.Event{
			Type:      events.TypeAuctionExtended,
			AuctionID: updated.ID,
			EndTime:   updated.EndTime,
		})
	}
	s.log.WithField("auction_id", updated.ID).
		WithField("bidder", caller).
		WithField("amount", amount).
		WithField("extended", extended).
		Info("Bid accepted")
	return updated, nil
}

// validateBatch checks the listing descriptor and normalizes it into items.
func (s *Service) validateBatch(req StartRequest) ([]auction.Item, error) {
	if len(req.TokenIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.TokenIDs) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%d items, cap %d: %w", len(req.TokenIDs), s.cfg.MaxBatchSize, ErrBatchTooLarge)
	}

	seen := make(map[string]struct{}, len(req.TokenIDs))
	for _, id := range req.TokenIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("token %s listed twice: %w", id, ErrTokenAlreadyInAuction)
		}
		seen[id] = struct{}{}
	}

	items := make([]auction.Item, 0, len(req.TokenIDs))
	switch req.Kind {
	case auction.KindSingleUnitBatch:
		for _, id := range req.TokenIDs {
			items = append(items, auction.Item{TokenID: id, Quantity: 1})
		}
	case auction.KindMultiUnitBatch:
		if len(req.Quantities) != len(req.TokenIDs) {
			return nil, ErrLengthMismatch
		}
		var total int64
		for i, id := range req.TokenIDs {
			if req.Quantities[i] < 1 {
				return nil, fmt.Errorf("token %s quantity %d: %w", id, req.Quantities[i], ErrInvalidQuantity)
			}
			total += req.Quantities[i]
			items = append(items, auction.Item{TokenID: id, Quantity: req.Quantities[i]})
		}
		if total > int64(s.cfg.MaxBatchSize) {
			return nil, fmt.Errorf("total quantity %d, cap %d: %w", total, s.cfg.MaxBatchSize, ErrBatchTooLarge)
		}
	default:
		return nil, fmt.Errorf("%q: %w", req.Kind, ErrInvalidKind)
	}
	return items, nil
}

// validateHoldings confirms the custodian's on-chain holdings cover the batch
// and no unit is already reserved by another open auction.
func (s *Service) validateHoldings(ctx context.Context, kind auction.Kind, contract string, items []auction.Item) error {
	contract = normAddr(contract)
	custodian := normAddr(s.cfg.Custodian)

	for _, item := range items {
		if s.custody.IsReserved(contract, item.TokenID) {
			return fmt.Errorf("token %s: %w", item.TokenID, ErrTokenAlreadyInAuction)
		}
	}

	switch kind {
	case auction.KindSingleUnitBatch:
		col, err := s.collections.Single(contract)
		if err != nil {
			return err
		}
		for _, item := range items {
			owner, err := col.OwnerOf(ctx, item.TokenID)
			if err != nil || normAddr(owner) != custodian {
				return fmt.Errorf("token %s: %w", item.TokenID, ErrTokenNotOwned)
			}
		}
	case auction.KindMultiUnitBatch:
		col, err := s.collections.Multi(contract)
		if err != nil {
			return err
		}
		for _, item := range items {
			held, err := col.BalanceOf(ctx, custodian, item.TokenID)
			if err != nil {
				return fmt.Errorf("token %s balance: %w", item.TokenID, err)
			}
			if held < item.Quantity {
				return fmt.Errorf("token %s holds %d, need %d: %w", item.TokenID, held, item.Quantity, ErrNotEnoughSupply)
			}
		}
	}
	return nil
}
