package auctionhouse

import (
	"context"
	"fmt"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/events"
	"github.com/tokenhall/auctionhouse/internal/app/metrics"
)

// Claim settles a won auction: rewards are paid into the balance ledger,
// custody reservations are released, and the listed items move from the
// custodian to the winner. A failed token transfer rolls the whole claim
// back.
func (s *Service) Claim(ctx context.Context, caller string, auctionID int64) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller = normAddr(caller)

	rec, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		metrics.RecordTransition("claim", false)
		return auction.Auction{}, fmt.Errorf("auction %d: %w", auctionID, ErrAuctionNotFound)
	}
	if rec.Status != auction.StatusActive {
		metrics.RecordTransition("claim", false)
		return auction.Auction{}, statusError(rec.Status)
	}
	if caller != rec.HighestBidder {
		metrics.RecordTransition("claim", false)
		return auction.Auction{}, ErrNotHighestBidder
	}
	if !s.now().After(rec.EndTime) {
		metrics.RecordTransition("claim", false)
		return auction.Auction{}, ErrAuctionActive
	}

	// Rewards first: each outbid address's accrued total becomes
	// pull-withdrawable.
	var rewarded []string
	rollbackRewards := func() {
		for _, addr := range rewarded {
			if _, err := s.balances.Consume(ctx, addr, rec.Rewards[addr]); err != nil {
				s.log.WithError(err).WithField("address", addr).Error("Failed to reclaim reward during rollback")
			}
		}
	}
	for _, addr := range rec.RewardOrder {
		reward := rec.Rewards[addr]
		if reward == 0 {
			continue
		}
		if err := s.balances.Credit(ctx, addr, reward); err != nil {
			rollbackRewards()
			metrics.RecordTransition("claim", false)
			return auction.Auction{}, fmt.Errorf("pay reward to %s: %w", addr, err)
		}
		rewarded = append(rewarded, addr)
	}

	released, err := s.releaseCustody(rec)
	if err != nil {
		rollbackRewards()
		metrics.RecordTransition("claim", false)
		return auction.Auction{}, err
	}
	rollbackCustody := func() { s.reReserve(rec, released) }

	rec.Status = auction.StatusClaimed
	rec.UpdatedAt = s.now()
	updated, err := s.auctions.UpdateAuction(ctx, rec)
	if err != nil {
		rollbackCustody()
		rollbackRewards()
		metrics.RecordTransition("claim", false)
		return auction.Auction{}, fmt.Errorf("update auction: %w", err)
	}
	rollbackStatus := func() {
		rec.Status = auction.StatusActive
		if _, err := s.auctions.UpdateAuction(ctx, rec); err != nil {
			s.log.WithError(err).Error("Failed to restore auction status during rollback")
		}
	}

	if err := s.transferItems(ctx, updated, caller); err != nil {
		rollbackStatus()
		rollbackCustody()
		rollbackRewards()
		metrics.RecordTransition("claim", false)
		return auction.Auction{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	s.setActiveCount(s.activeCount - 1)
	metrics.RecordTransition("claim", true)
	s.hub.Publish(events.Event{
		Type:      events.TypeAuctionClaimed,
		AuctionID: updated.ID,
		Address:   caller,
		Amount:    updated.HighestBid,
	})
	s.log.WithField("auction_id", updated.ID).WithField("winner", caller).Info("Auction claimed")
	return updated, nil
}

// Refund returns the highest bid when the custodian has reneged: available
// only inside the settlement window and only while the batch is not fully
// approved and held for transfer.
func (s *Service) Refund(ctx context.Context, caller string, auctionID int64) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller = normAddr(caller)

	rec, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, fmt.Errorf("auction %d: %w", auctionID, ErrAuctionNotFound)
	}
	if rec.Status != auction.StatusActive {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, statusError(rec.Status)
	}
	if caller != rec.HighestBidder {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, ErrNotHighestBidder
	}

	now := s.now()
	if !now.After(rec.EndTime) {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, ErrAuctionActive
	}
	if !now.Before(rec.EndTime.Add(s.cfg.SettlementDuration)) {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, ErrSettlementPeriodEnded
	}

	claimable, err := s.batchClaimable(ctx, rec)
	if err != nil {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, err
	}
	if claimable {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, ErrAuctionIsApproved
	}

	released, err := s.releaseCustody(rec)
	if err != nil {
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, err
	}

	rec.Status = auction.StatusRefunded
	rec.UpdatedAt = now
	updated, err := s.auctions.UpdateAuction(ctx, rec)
	if err != nil {
		s.reReserve(rec, released)
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, fmt.Errorf("update auction: %w", err)
	}

	if err := s.treasury.Transfer(ctx, caller, updated.HighestBid); err != nil {
		rec.Status = auction.StatusActive
		if _, uErr := s.auctions.UpdateAuction(ctx, rec); uErr != nil {
			s.log.WithError(uErr).Error("Failed to restore auction status during rollback")
		}
		s.reReserve(rec, released)
		metrics.RecordTransition("refund", false)
		return auction.Auction{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	s.setActiveCount(s.activeCount - 1)
	metrics.RecordTransition("refund", true)
	s.hub.Publish(events.Event{
		Type:      events.TypeAuctionRefunded,
		AuctionID: updated.ID,
		Address:   caller,
		Amount:    updated.HighestBid,
	})
	s.log.WithField("auction_id", updated.ID).WithField("bidder", caller).Info("Auction refunded")
	return updated, nil
}

// Abandon recovers escrowed funds when a winner neither claims nor refunds
// within the settlement window. Owner only. The stalled bidder is credited
// their bid minus the fee; the fee goes to the caller directly.
func (s *Service) Abandon(ctx context.Context, caller string, auctionID int64) (auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if normAddr(caller) != normAddr(s.cfg.Owner) {
		metrics.RecordTransition("abandon", false)
		return auction.Auction{}, ErrNotOwner
	}

	rec, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		metrics.RecordTransition("abandon", false)
		return auction.Auction{}, fmt.Errorf("auction %d: %w", auctionID, ErrAuctionNotFound)
	}
	if rec.Status != auction.StatusActive {
		metrics.RecordTransition("abandon", false)
		return auction.Auction{}, statusError(rec.Status)
	}
	if !s.now().After(rec.EndTime.Add(s.cfg.SettlementDuration)) {
		metrics.RecordTransition("abandon", false)
		return auction.Auction{}, ErrSettlementPeriodActive
	}

	released, err := s.releaseCustody(rec)
	if err != nil {
		metrics.RecordTransition("abandon", false)
		return auction.Auction{}, err
	}

	fee := rec.HighestBid * int64(s.cfg.AbandonFeePercent) / 100
	remainder := rec.HighestBid - fee
	if err := s.balances.Credit(ctx, rec.HighestBidder, remainder); err != nil {
		s.reReserve(rec, released)
		metrics.RecordTransition("abandon", false)
		return auction.Auction{}, fmt.Errorf("credit stalled bidder: %w", err)
	}

	rec.Status = auction.StatusAbandoned
	rec.UpdatedAt = s.now()
	updated, err := s.auctions.UpdateAuction(ctx, rec)
	if err != nil {
		if _, cErr := s.balances.Consume(ctx, rec.HighestBidder, remainder); cErr != nil {
			s.log.WithError(cErr).Error("Failed to reclaim credit during rollback")
		}
		s.reReserve(rec, released)
		metrics.RecordTransition("abandon", false)
		return auction.Auction{}, fmt.Errorf("update auction: %w", err)
	}

	if fee > 0 {
		if err := s.treasury.Transfer(ctx, caller, fee); err != nil {
			rec.Status = auction.StatusActive
			if _, uErr := s.auctions.UpdateAuction(ctx, rec); uErr != nil {
				s.log.WithError(uErr).Error("Failed to restore auction status during rollback")
			}
			if _, cErr := s.balances.Consume(ctx, rec.HighestBidder, remainder); cErr != nil {
				s.log.WithError(cErr).Error("Failed to reclaim credit during rollback")
			}
			s.reReserve(rec, released)
			metrics.RecordTransition("abandon", false)
			return auction.Auction{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	s.setActiveCount(s.activeCount - 1)
	metrics.RecordTransition("abandon", true)
	s.hub.Publish(events.Event{
		Type:      events.TypeAuctionAbandoned,
		AuctionID: updated.ID,
		Address:   updated.HighestBidder,
		Amount:    fee,
	})
	s.log.WithField("auction_id", updated.ID).WithField("fee", fee).Info("Auction abandoned")
	return updated, nil
}

// Withdraw collects the proceeds of claimed auctions in one aggregate
// transfer. Owner only. Any ID that is not currently Claimed aborts the whole
// batch.
func (s *Service) Withdraw(ctx context.Context, caller string, auctionIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if normAddr(caller) != normAddr(s.cfg.Owner) {
		metrics.RecordTransition("withdraw", false)
		return 0, ErrNotOwner
	}
	if len(auctionIDs) == 0 {
		metrics.RecordTransition("withdraw", false)
		return 0, ErrEmptyBatch
	}

	seen := make(map[int64]struct{}, len(auctionIDs))
	records := make([]auction.Auction, 0, len(auctionIDs))
	var total int64
	for _, id := range auctionIDs {
		if _, dup := seen[id]; dup {
			metrics.RecordTransition("withdraw", false)
			return 0, fmt.Errorf("auction %d listed twice: %w", id, ErrAuctionNotClaimed)
		}
		seen[id] = struct{}{}

		rec, err := s.auctions.GetAuction(ctx, id)
		if err != nil {
			metrics.RecordTransition("withdraw", false)
			return 0, fmt.Errorf("auction %d: %w", id, ErrAuctionNotFound)
		}
		if rec.Status != auction.StatusClaimed {
			metrics.RecordTransition("withdraw", false)
			return 0, fmt.Errorf("auction %d status %s: %w", id, rec.Status, ErrAuctionNotClaimed)
		}
		records = append(records, rec)
		total += rec.HighestBid
	}

	now := s.now()
	var marked []auction.Auction
	rollback := func() {
		for _, rec := range marked {
			rec.Status = auction.StatusClaimed
			if _, err := s.auctions.UpdateAuction(ctx, rec); err != nil {
				s.log.WithError(err).WithField("auction_id", rec.ID).Error("Failed to restore auction status during rollback")
			}
		}
	}
	for _, rec := range records {
		rec.Status = auction.StatusWithdrawn
		rec.UpdatedAt = now
		if _, err := s.auctions.UpdateAuction(ctx, rec); err != nil {
			rollback()
			metrics.RecordTransition("withdraw", false)
			return 0, fmt.Errorf("update auction %d: %w", rec.ID, err)
		}
		marked = append(marked, rec)
	}

	if err := s.treasury.Transfer(ctx, caller, total); err != nil {
		rollback()
		metrics.RecordTransition("withdraw", false)
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	metrics.RecordTransition("withdraw", true)
	for _, rec := range marked {
		s.hub.Publish(events.Event{
			Type:      events.TypeAuctionWithdrawn,
			AuctionID: rec.ID,
			Address:   normAddr(caller),
			Amount:    rec.HighestBid,
		})
	}
	s.log.WithField("auctions", len(marked)).WithField("total", total).Info("Proceeds withdrawn")
	return total, nil
}

// WithdrawBalance pays out the caller's full pull-payment balance. The entry
// is zeroed before the transfer is attempted and restored if it fails.
func (s *Service) WithdrawBalance(ctx context.Context, caller string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller = normAddr(caller)

	taken, err := s.balances.Take(ctx, caller)
	if err != nil {
		return 0, fmt.Errorf("take balance: %w", err)
	}
	if taken == 0 {
		return 0, ErrNoBalanceToWithdraw
	}

	if err := s.treasury.Transfer(ctx, caller, taken); err != nil {
		s.restoreDebit(ctx, caller, taken)
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	metrics.RecordBalanceWithdrawal()
	s.hub.Publish(events.Event{
		Type:    events.TypeBalanceWithdrawn,
		Address: caller,
		Amount:  taken,
	})
	s.log.WithField("address", caller).WithField("amount", taken).Info("Balance withdrawn")
	return taken, nil
}

// releaseCustody releases every reservation held by the auction and returns
// the released items so a failing caller can re-reserve them.
func (s *Service) releaseCustody(rec auction.Auction) ([]auction.Item, error) {
	var released []auction.Item
	for _, item := range rec.Items {
		if err := s.custody.Release(rec.TokenContract, item.TokenID, rec.ID); err != nil {
			s.reReserve(rec, released)
			return nil, fmt.Errorf("release custody: %w", err)
		}
		released = append(released, item)
	}
	return released, nil
}

func (s *Service) reReserve(rec auction.Auction, items []auction.Item) {
	for _, item := range items {
		if err := s.custody.Reserve(rec.TokenContract, item.TokenID, rec.ID, item.Quantity); err != nil {
			s.log.WithError(err).Error("Failed to re-reserve custody during rollback")
		}
	}
}

// batchClaimable reports whether the custodian has approved the escrow
// operator and still holds every listed item, i.e. the winner could claim.
func (s *Service) batchClaimable(ctx context.Context, rec auction.Auction) (bool, error) {
	custodian := normAddr(s.cfg.Custodian)
	escrow := normAddr(s.cfg.Escrow)

	switch rec.Kind {
	case auction.KindSingleUnitBatch:
		col, err := s.collections.Single(rec.TokenContract)
		if err != nil {
			return false, err
		}
		approved, err := col.IsApprovedForAll(ctx, custodian, escrow)
		if err != nil {
			return false, fmt.Errorf("approval query: %w", err)
		}
		if !approved {
			return false, nil
		}
		for _, item := range rec.Items {
			owner, err := col.OwnerOf(ctx, item.TokenID)
			if err != nil || normAddr(owner) != custodian {
				return false, nil
			}
		}
		return true, nil
	case auction.KindMultiUnitBatch:
		col, err := s.collections.Multi(rec.TokenContract)
		if err != nil {
			return false, err
		}
		approved, err := col.IsApprovedForAll(ctx, custodian, escrow)
		if err != nil {
			return false, fmt.Errorf("approval query: %w", err)
		}
		if !approved {
			return false, nil
		}
		for _, item := range rec.Items {
			held, err := col.BalanceOf(ctx, custodian, item.TokenID)
			if err != nil || held < item.Quantity {
				return false, nil
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("%q: %w", rec.Kind, ErrInvalidKind)
}

// transferItems moves the listed items from the custodian to the winner:
// one transfer per item for single-unit batches, one batched transfer for
// multi-unit ones. A mid-batch failure moves already-transferred items back.
func (s *Service) transferItems(ctx context.Context, rec auction.Auction, winner string) error {
	custodian := normAddr(s.cfg.Custodian)

	switch rec.Kind {
	case auction.KindSingleUnitBatch:
		col, err := s.collections.Single(rec.TokenContract)
		if err != nil {
			return err
		}
		var moved []string
		for _, item := range rec.Items {
			if err := col.TransferFrom(ctx, custodian, winner, item.TokenID); err != nil {
				for _, id := range moved {
					if backErr := col.TransferFrom(ctx, winner, custodian, id); backErr != nil {
						s.log.WithError(backErr).WithField("token_id", id).Error("Failed to return token during rollback")
					}
				}
				return fmt.Errorf("transfer token %s: %w", item.TokenID, err)
			}
			moved = append(moved, item.TokenID)
		}
		return nil
	case auction.KindMultiUnitBatch:
		col, err := s.collections.Multi(rec.TokenContract)
		if err != nil {
			return err
		}
		ids := make([]string, len(rec.Items))
		quantities := make([]int64, len(rec.Items))
		for i, item := range rec.Items {
			ids[i] = item.TokenID
			quantities[i] = item.Quantity
		}
		if err := col.BatchTransferFrom(ctx, custodian, winner, ids, quantities); err != nil {
			return fmt.Errorf("batch transfer: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%q: %w", rec.Kind, ErrInvalidKind)
}
