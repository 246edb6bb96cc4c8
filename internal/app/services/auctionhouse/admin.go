package auctionhouse

import (
	"fmt"
	"time"
)

// Owner-gated configuration setters. Each takes effect for operations
// admitted after it returns; in-flight operations saw a snapshot.

// SetCustodian changes the custodian address.
func (s *Service) SetCustodian(caller, custodian string) error {
	return s.updateSettings(caller, func() error {
		if custodian == "" {
			return fmt.Errorf("custodian address is empty")
		}
		s.cfg.Custodian = custodian
		return nil
	})
}

// SetBatchSizeCap changes the per-listing item and quantity cap.
func (s *Service) SetBatchSizeCap(caller string, cap int) error {
	return s.updateSettings(caller, func() error {
		if cap < 1 {
			return fmt.Errorf("batch size cap must be at least 1")
		}
		s.cfg.MaxBatchSize = cap
		return nil
	})
}

// SetMinStartingBid changes the minimum starting bid.
func (s *Service) SetMinStartingBid(caller string, amount int64) error {
	return s.updateSettings(caller, func() error {
		if amount < 0 {
			return fmt.Errorf("minimum starting bid cannot be negative")
		}
		s.cfg.MinStartingBid = amount
		return nil
	})
}

// SetMinBidIncrement changes the minimum bid increment.
func (s *Service) SetMinBidIncrement(caller string, amount int64) error {
	return s.updateSettings(caller, func() error {
		if amount < 0 {
			return fmt.Errorf("minimum bid increment cannot be negative")
		}
		s.cfg.MinBidIncrement = amount
		return nil
	})
}

// SetDurations changes the auction and settlement durations.
func (s *Service) SetDurations(caller string, auctionDuration, settlementDuration time.Duration) error {
	return s.updateSettings(caller, func() error {
		if auctionDuration <= 0 || settlementDuration <= 0 {
			return fmt.Errorf("durations must be positive")
		}
		s.cfg.Duration = auctionDuration
		s.cfg.SettlementDuration = settlementDuration
		return nil
	})
}

// SetAntiSnipeWindow changes the anti-snipe window.
func (s *Service) SetAntiSnipeWindow(caller string, window time.Duration) error {
	return s.updateSettings(caller, func() error {
		if window < 0 {
			return fmt.Errorf("anti-snipe window cannot be negative")
		}
		s.cfg.AntiSnipeWindow = window
		return nil
	})
}

// SetAbandonFeePercent changes the abandonment fee percentage.
func (s *Service) SetAbandonFeePercent(caller string, pct int) error {
	return s.updateSettings(caller, func() error {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%d: %w", pct, ErrInvalidFeePercentage)
		}
		s.cfg.AbandonFeePercent = pct
		return nil
	})
}

// SetRewardPercent changes the outbid reward percentage.
func (s *Service) SetRewardPercent(caller string, pct int) error {
	return s.updateSettings(caller, func() error {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%d: %w", pct, ErrInvalidFeePercentage)
		}
		s.cfg.RewardPercent = pct
		return nil
	})
}

// SetTicketCosts changes the participation costs for starting and bidding.
func (s *Service) SetTicketCosts(caller string, startCost, bidCost int64) error {
	return s.updateSettings(caller, func() error {
		if startCost < 0 || bidCost < 0 {
			return fmt.Errorf("ticket costs cannot be negative")
		}
		s.cfg.StartTicketCost = startCost
		s.cfg.BidTicketCost = bidCost
		return nil
	})
}

func (s *Service) updateSettings(caller string, apply func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if normAddr(caller) != normAddr(s.cfg.Owner) {
		return ErrNotOwner
	}
	return apply()
}
