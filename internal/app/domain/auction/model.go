// Package auction defines the auction record and its lifecycle vocabulary.
package auction

import "time"

// Kind distinguishes batches of single-unit tokens from batches carrying an
// explicit per-token quantity.
type Kind string

const (
	KindSingleUnitBatch Kind = "single_unit_batch"
	KindMultiUnitBatch  Kind = "multi_unit_batch"
)

// Status is the lifecycle state of an auction. Exactly one terminal state is
// reachable from Active; Withdrawn is reachable only from Claimed.
type Status string

const (
	StatusActive    Status = "active"
	StatusClaimed   Status = "claimed"
	StatusRefunded  Status = "refunded"
	StatusAbandoned Status = "abandoned"
	StatusWithdrawn Status = "withdrawn"
)

// Terminal reports whether no further bidding can happen in this status.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// CanTransition reports whether from→to is a legal status move.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusClaimed || to == StatusRefunded || to == StatusAbandoned
	case StatusClaimed:
		return to == StatusWithdrawn
	default:
		return false
	}
}

// Item is one listed token. Quantity is 1 for single-unit batches.
type Item struct {
	TokenID  string `json:"token_id"`
	Quantity int64  `json:"quantity"`
}

// Auction is one auction record. Identity is the monotonically assigned ID;
// records are never deleted and IDs are never reused.
type Auction struct {
	ID            int64     `json:"id"`
	Kind          Kind      `json:"kind"`
	TokenContract string    `json:"token_contract"`
	EndTime       time.Time `json:"end_time"`
	ItemCount     int       `json:"item_count"`
	Status        Status    `json:"status"`
	HighestBidder string    `json:"highest_bidder"`
	HighestBid    int64     `json:"highest_bid"`
	Items         []Item    `json:"items"`

	// Rewards accrued per outbid address, plus the distinct addresses in
	// first-outbid order. The order list exists only so claim can iterate
	// deterministically; correctness does not depend on it.
	Rewards     map[string]int64 `json:"rewards,omitempty"`
	RewardOrder []string         `json:"reward_order,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalQuantity sums the listed quantities.
func (a Auction) TotalQuantity() int64 {
	var total int64
	for _, item := range a.Items {
		total += item.Quantity
	}
	return total
}

// Clone returns a deep copy so stores can hand out records without aliasing
// the registry's maps and slices.
func (a Auction) Clone() Auction {
	out := a
	out.Items = append([]Item(nil), a.Items...)
	out.RewardOrder = append([]string(nil), a.RewardOrder...)
	if a.Rewards != nil {
		out.Rewards = make(map[string]int64, len(a.Rewards))
		for addr, amount := range a.Rewards {
			out.Rewards[addr] = amount
		}
	}
	return out
}
