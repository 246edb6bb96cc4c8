package auctionhouse

import (
	"errors"
	"fmt"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
)

// Service errors. Callers match with errors.Is; every distinct failure mode
// keeps its own sentinel so callers can tell why a transition was rejected.
var (
	// Input validation.
	ErrEmptyBatch       = errors.New("batch has no items")
	ErrBatchTooLarge    = errors.New("batch exceeds the configured size cap")
	ErrLengthMismatch   = errors.New("token and quantity lists differ in length")
	ErrInvalidQuantity  = errors.New("item quantity must be positive")
	ErrInvalidKind      = errors.New("unknown auction kind")
	ErrStartPriceTooLow = errors.New("starting bid below the configured minimum")

	// State conflicts.
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrIsHighestBidder   = errors.New("caller is already the highest bidder")
	ErrNotHighestBidder  = errors.New("caller is not the highest bidder")
	ErrBidTooLow         = errors.New("bid below highest bid plus minimum increment")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrAuctionActive     = errors.New("auction is still active")
	ErrAuctionClaimed    = errors.New("auction was claimed")
	ErrAuctionRefunded   = errors.New("auction was refunded")
	ErrAuctionAbandoned  = errors.New("auction was abandoned")
	ErrAuctionWithdrawn  = errors.New("auction proceeds were withdrawn")
	ErrAuctionNotClaimed = errors.New("auction is not claimed")

	// Settlement timing.
	ErrSettlementPeriodEnded  = errors.New("settlement period has ended")
	ErrSettlementPeriodActive = errors.New("settlement period has not ended")
	ErrAuctionIsApproved      = errors.New("custodian approval and holdings are intact, auction is claimable")

	// Custody conflicts.
	ErrTokenAlreadyInAuction = errors.New("token is already listed in an open auction")
	ErrTokenNotOwned         = errors.New("custodian does not own the listed token")
	ErrNotEnoughSupply       = errors.New("custodian does not hold enough of the listed token")

	// Payment.
	ErrInvalidValue        = errors.New("attached value does not match the required shortfall")
	ErrNoBalanceToWithdraw = errors.New("no balance to withdraw")

	// Authorization and configuration.
	ErrNotOwner             = errors.New("caller is not the owner")
	ErrInvalidFeePercentage = errors.New("percentage out of range 0-100")

	// External transfers.
	ErrTransferFailed = errors.New("external transfer failed")
)

// statusError maps a terminal status to the sentinel callers expect when an
// operation requires the auction to still be Active.
func statusError(status auction.Status) error {
	switch status {
	case auction.StatusClaimed:
		return ErrAuctionClaimed
	case auction.StatusRefunded:
		return ErrAuctionRefunded
	case auction.StatusAbandoned:
		return ErrAuctionAbandoned
	case auction.StatusWithdrawn:
		return ErrAuctionWithdrawn
	default:
		return fmt.Errorf("unexpected auction status %q", status)
	}
}
