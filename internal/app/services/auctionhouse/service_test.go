package auctionhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/services/tickets"
	"github.com/tokenhall/auctionhouse/internal/app/storage/memory"
	"github.com/tokenhall/auctionhouse/internal/chain"
	"github.com/tokenhall/auctionhouse/internal/config"
)

const (
	minBid    = 5_000_000 // 0.05
	increment = 1_000_000 // 0.01
	contract  = "0xcafe"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	svc      *Service
	clock    *testClock
	registry *chain.MemoryRegistry
	treasury *chain.MemoryTreasury
	tickets  *tickets.Service
	store    *memory.Store
	cfg      config.AuctionConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.AuctionConfig{
		Owner:              "owner",
		Custodian:          "custodian",
		Escrow:             "escrow",
		MaxBatchSize:       10,
		MinStartingBid:     minBid,
		MinBidIncrement:    increment,
		Duration:           24 * time.Hour,
		SettlementDuration: 72 * time.Hour,
		AntiSnipeWindow:    10 * time.Minute,
		AbandonFeePercent:  20,
		RewardPercent:      10,
		StartTicketCost:    1,
		BidTicketCost:      1,
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.New()
	registry := chain.NewMemoryRegistry()
	treasury := chain.NewMemoryTreasury()
	meter := tickets.NewService(store, nil)

	svc, err := NewService(context.Background(), Params{
		Config:      cfg,
		Auctions:    store,
		Balances:    store,
		Meter:       meter,
		Collections: registry,
		Treasury:    treasury,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	return &fixture{svc: svc, clock: clock, registry: registry, treasury: treasury, tickets: meter, store: store, cfg: cfg}
}

func (f *fixture) grantTickets(t *testing.T, holder string) {
	t.Helper()
	ctx := context.Background()
	if err := f.tickets.Mint(ctx, holder, tickets.KindStart, 10); err != nil {
		t.Fatalf("mint start tickets: %v", err)
	}
	if err := f.tickets.Mint(ctx, holder, tickets.KindBid, 10); err != nil {
		t.Fatalf("mint bid tickets: %v", err)
	}
}

func (f *fixture) mintSingles(tokenIDs ...string) {
	col := f.registry.Collection(contract)
	for _, id := range tokenIDs {
		col.MintSingle(id, "custodian")
	}
}

// startSingle lists tokenIDs as a single-unit batch at the minimum bid with
// the full amount attached.
func (f *fixture) startSingle(t *testing.T, caller string, tokenIDs ...string) auction.Auction {
	t.Helper()
	rec, err := f.svc.Start(context.Background(), StartRequest{
		Caller:        caller,
		Kind:          auction.KindSingleUnitBatch,
		TokenContract: contract,
		TokenIDs:      tokenIDs,
		StartingBid:   minBid,
		Attached:      minBid,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return rec
}

func (f *fixture) balance(t *testing.T, addr string) int64 {
	t.Helper()
	got, err := f.svc.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	return got
}

func TestStartCreatesActiveAuction(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1", "2", "3")

	rec := f.startSingle(t, "alice", "1", "2", "3")

	if rec.ID != 1 {
		t.Errorf("ID = %d, want 1", rec.ID)
	}
	if rec.Status != auction.StatusActive {
		t.Errorf("Status = %s, want active", rec.Status)
	}
	if rec.HighestBidder != "alice" || rec.HighestBid != minBid {
		t.Errorf("leader = %s at %d, want alice at %d", rec.HighestBidder, rec.HighestBid, int64(minBid))
	}
	if want := f.clock.now.Add(24 * time.Hour); !rec.EndTime.Equal(want) {
		t.Errorf("EndTime = %v, want %v", rec.EndTime, want)
	}
	if rec.ItemCount != 3 {
		t.Errorf("ItemCount = %d, want 3", rec.ItemCount)
	}

	left, _ := f.tickets.Balance(context.Background(), "alice", tickets.KindStart)
	if left != 9 {
		t.Errorf("start tickets = %d, want 9", left)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1", "2")

	ctx := context.Background()
	base := StartRequest{
		Caller:        "alice",
		Kind:          auction.KindSingleUnitBatch,
		TokenContract: contract,
		TokenIDs:      []string{"1"},
		StartingBid:   minBid,
		Attached:      minBid,
	}

	cases := []struct {
		name   string
		mutate func(*StartRequest)
		want   error
	}{
		{"empty batch", func(r *StartRequest) { r.TokenIDs = nil }, ErrEmptyBatch},
		{"over cap", func(r *StartRequest) {
			r.TokenIDs = make([]string, 11)
			for i := range r.TokenIDs {
				r.TokenIDs[i] = string(rune('a' + i))
			}
		}, ErrBatchTooLarge},
		{"below minimum", func(r *StartRequest) { r.StartingBid = minBid - 1; r.Attached = minBid - 1 }, ErrStartPriceTooLow},
		{"duplicate token", func(r *StartRequest) { r.TokenIDs = []string{"1", "1"} }, ErrTokenAlreadyInAuction},
		{"not owned", func(r *StartRequest) { r.TokenIDs = []string{"404"} }, ErrTokenNotOwned},
		{"wrong attached", func(r *StartRequest) { r.Attached = minBid - 1 }, ErrInvalidValue},
		{"bad kind", func(r *StartRequest) { r.Kind = "mystery" }, ErrInvalidKind},
		{"multi length mismatch", func(r *StartRequest) {
			r.Kind = auction.KindMultiUnitBatch
			r.Quantities = []int64{1, 2}
		}, ErrLengthMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			req.TokenIDs = append([]string(nil), base.TokenIDs...)
			tc.mutate(&req)
			if _, err := f.svc.Start(ctx, req); !errors.Is(err, tc.want) {
				t.Fatalf("Start error = %v, want %v", err, tc.want)
			}
		})
	}

	// A failed start must leave no record, reservation, or burned ticket.
	if all, _ := f.svc.ListAuctions(ctx); len(all) != 0 {
		t.Errorf("auctions after failed starts = %d, want 0", len(all))
	}
	left, _ := f.tickets.Balance(ctx, "alice", tickets.KindStart)
	if left != 10 {
		t.Errorf("start tickets = %d, want 10", left)
	}
}

func TestStartRejectsReservedToken(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1", "2")

	f.startSingle(t, "alice", "1")

	_, err := f.svc.Start(context.Background(), StartRequest{
		Caller:        "bob",
		Kind:          auction.KindSingleUnitBatch,
		TokenContract: contract,
		TokenIDs:      []string{"1", "2"},
		StartingBid:   minBid,
		Attached:      minBid,
	})
	if !errors.Is(err, ErrTokenAlreadyInAuction) {
		t.Fatalf("Start error = %v, want ErrTokenAlreadyInAuction", err)
	}
}

func TestStartRequiresTickets(t *testing.T) {
	f := newFixture(t)
	f.mintSingles("1")

	_, err := f.svc.Start(context.Background(), StartRequest{
		Caller:        "alice",
		Kind:          auction.KindSingleUnitBatch,
		TokenContract: contract,
		TokenIDs:      []string{"1"},
		StartingBid:   minBid,
		Attached:      minBid,
	})
	if !errors.Is(err, tickets.ErrInsufficientTickets) {
		t.Fatalf("Start error = %v, want ErrInsufficientTickets", err)
	}
}

func TestBidFlow(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1", "2", "3")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1", "2", "3")

	// Bob outbids at 0.06: Alice's 0.05 becomes withdrawable and her reward
	// accrues at 10% of the delta.
	updated, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+increment, minBid+increment)
	if err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if updated.HighestBidder != "bob" || updated.HighestBid != minBid+increment {
		t.Errorf("leader = %s at %d, want bob at %d", updated.HighestBidder, updated.HighestBid, int64(minBid+increment))
	}
	if got := f.balance(t, "alice"); got != minBid {
		t.Errorf("alice balance = %d, want %d", got, int64(minBid))
	}
	if got := updated.Rewards["alice"]; got != increment/10 {
		t.Errorf("alice reward = %d, want %d", got, int64(increment/10))
	}
	if len(updated.RewardOrder) != 1 || updated.RewardOrder[0] != "alice" {
		t.Errorf("RewardOrder = %v, want [alice]", updated.RewardOrder)
	}

	if _, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+2*increment, minBid+2*increment); !errors.Is(err, ErrIsHighestBidder) {
		t.Errorf("leader re-bid error = %v, want ErrIsHighestBidder", err)
	}
	if _, err := f.svc.Bid(ctx, "alice", rec.ID, minBid+2*increment-1, minBid+2*increment-1-minBid); !errors.Is(err, ErrBidTooLow) {
		t.Errorf("low bid error = %v, want ErrBidTooLow", err)
	}
}

func TestBidAfterEndFails(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1")

	rec := f.startSingle(t, "alice", "1")

	f.clock.now = rec.EndTime.Add(time.Second)
	_, err := f.svc.Bid(context.Background(), "bob", rec.ID, minBid+increment, minBid+increment)
	if !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("Bid error = %v, want ErrAuctionEnded", err)
	}
}

func TestBidSpendsBalanceFirst(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1")

	if _, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+increment, minBid+increment); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	// Alice now holds her refunded 0.05 and can re-bid 0.07 attaching only
	// the 0.02 shortfall.
	amount := int64(minBid + 2*increment)
	if _, err := f.svc.Bid(ctx, "alice", rec.ID, amount, amount-minBid); err != nil {
		t.Fatalf("re-bid with balance offset failed: %v", err)
	}
	if got := f.balance(t, "alice"); got != 0 {
		t.Errorf("alice balance = %d, want 0", got)
	}

	// Overpaying the shortfall is rejected.
	bobAmount := amount + increment
	_, err := f.svc.Bid(ctx, "bob", rec.ID, bobAmount, bobAmount)
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("overpay error = %v, want ErrInvalidValue (bob holds a refunded balance)", err)
	}
}

func TestAntiSnipeExtension(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.grantTickets(t, "carol")
	f.mintSingles("1")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1")
	window := f.cfg.AntiSnipeWindow

	// A bid exactly at endTime - window extends by the window.
	f.clock.now = rec.EndTime.Add(-window)
	updated, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+increment, minBid+increment)
	if err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if want := rec.EndTime.Add(window); !updated.EndTime.Equal(want) {
		t.Fatalf("EndTime = %v, want %v", updated.EndTime, want)
	}

	// Extensions compound across repeated late bids.
	f.clock.now = updated.EndTime.Add(-time.Minute)
	again, err := f.svc.Bid(ctx, "carol", rec.ID, minBid+2*increment, minBid+2*increment)
	if err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if want := updated.EndTime.Add(window); !again.EndTime.Equal(want) {
		t.Fatalf("EndTime = %v, want %v", again.EndTime, want)
	}

	// An early bid does not extend.
	f.clock.now = again.EndTime.Add(-window - time.Hour)
	early, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+3*increment, minBid+3*increment-minBid-increment)
	if err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if !early.EndTime.Equal(again.EndTime) {
		t.Fatalf("EndTime moved on an early bid: %v -> %v", again.EndTime, early.EndTime)
	}
}

func TestClaimRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1", "2", "3")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1", "2", "3")

	if _, err := f.svc.Claim(ctx, "alice", rec.ID); !errors.Is(err, ErrAuctionActive) {
		t.Fatalf("early claim error = %v, want ErrAuctionActive", err)
	}

	f.clock.now = rec.EndTime.Add(time.Second)

	if _, err := f.svc.Claim(ctx, "mallory", rec.ID); !errors.Is(err, ErrNotHighestBidder) {
		t.Fatalf("stranger claim error = %v, want ErrNotHighestBidder", err)
	}

	claimed, err := f.svc.Claim(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.Status != auction.StatusClaimed {
		t.Errorf("Status = %s, want claimed", claimed.Status)
	}

	col := f.registry.Collection(contract)
	for _, id := range []string{"1", "2", "3"} {
		owner, err := col.OwnerOf(ctx, id)
		if err != nil || owner != "alice" {
			t.Errorf("token %s owner = %q (%v), want alice", id, owner, err)
		}
	}

	if _, err := f.svc.Claim(ctx, "alice", rec.ID); !errors.Is(err, ErrAuctionClaimed) {
		t.Fatalf("double claim error = %v, want ErrAuctionClaimed", err)
	}
}

func TestClaimPaysRewards(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1", "2", "3")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1", "2", "3")

	if _, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+increment, minBid+increment); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	f.clock.advance(25 * time.Hour)
	if _, err := f.svc.Claim(ctx, "bob", rec.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// Alice holds her refunded bid plus floor(delta * 10%).
	want := int64(minBid) + increment/10
	if got := f.balance(t, "alice"); got != want {
		t.Errorf("alice balance = %d, want %d", got, want)
	}

	got, err := f.svc.RewardsFor(ctx, "alice", []int64{rec.ID})
	if err != nil {
		t.Fatalf("RewardsFor failed: %v", err)
	}
	if got != increment/10 {
		t.Errorf("RewardsFor = %d, want %d", got, int64(increment/10))
	}
}

func TestClaimTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1")
	if _, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+increment, minBid+increment); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	f.clock.advance(25 * time.Hour)
	f.registry.Collection(contract).FailTransfers = true

	_, err := f.svc.Claim(ctx, "bob", rec.ID)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Claim error = %v, want ErrTransferFailed", err)
	}

	got, getErr := f.svc.GetAuction(ctx, rec.ID)
	if getErr != nil {
		t.Fatalf("GetAuction failed: %v", getErr)
	}
	if got.Status != auction.StatusActive {
		t.Errorf("Status after failed claim = %s, want active", got.Status)
	}

	// Alice's reward was rolled back along with the claim; only her refunded
	// bid remains.
	if bal := f.balance(t, "alice"); bal != minBid {
		t.Errorf("alice balance = %d, want %d", bal, int64(minBid))
	}

	// The claim is retryable once the collection cooperates.
	f.registry.Collection(contract).FailTransfers = false
	if _, err := f.svc.Claim(ctx, "bob", rec.ID); err != nil {
		t.Fatalf("retried Claim failed: %v", err)
	}
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1", "2")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1", "2")

	if _, err := f.svc.Refund(ctx, "alice", rec.ID); !errors.Is(err, ErrAuctionActive) {
		t.Fatalf("early refund error = %v, want ErrAuctionActive", err)
	}

	f.clock.now = rec.EndTime.Add(time.Hour)

	refunded, err := f.svc.Refund(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refunded.Status != auction.StatusRefunded {
		t.Errorf("Status = %s, want refunded", refunded.Status)
	}
	if got := f.treasury.Sent("alice"); got != minBid {
		t.Errorf("refund transfer = %d, want %d", got, int64(minBid))
	}
}

func TestRefundBlockedWhenClaimable(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1")

	// The custodian approves the escrow operator and still owns the item, so
	// the auction is claimable and not refundable.
	f.registry.Collection(contract).SetApprovalForAll("custodian", "escrow", true)

	f.clock.now = rec.EndTime.Add(time.Hour)
	if _, err := f.svc.Refund(ctx, "alice", rec.ID); !errors.Is(err, ErrAuctionIsApproved) {
		t.Fatalf("Refund error = %v, want ErrAuctionIsApproved", err)
	}
}

func TestRefundAfterSettlementFails(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1")

	f.clock.now = rec.EndTime.Add(f.cfg.SettlementDuration)
	if _, err := f.svc.Refund(ctx, "alice", rec.ID); !errors.Is(err, ErrSettlementPeriodEnded) {
		t.Fatalf("Refund error = %v, want ErrSettlementPeriodEnded", err)
	}
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1")

	if _, err := f.svc.Abandon(ctx, "mallory", rec.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner abandon error = %v, want ErrNotOwner", err)
	}

	f.clock.now = rec.EndTime.Add(time.Hour)
	if _, err := f.svc.Abandon(ctx, "owner", rec.ID); !errors.Is(err, ErrSettlementPeriodActive) {
		t.Fatalf("early abandon error = %v, want ErrSettlementPeriodActive", err)
	}

	f.clock.now = rec.EndTime.Add(f.cfg.SettlementDuration + time.Second)
	abandoned, err := f.svc.Abandon(ctx, "owner", rec.ID)
	if err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if abandoned.Status != auction.StatusAbandoned {
		t.Errorf("Status = %s, want abandoned", abandoned.Status)
	}

	fee := int64(minBid) * 20 / 100
	if got := f.balance(t, "alice"); got != minBid-fee {
		t.Errorf("stalled bidder credit = %d, want %d", got, minBid-fee)
	}
	if got := f.treasury.Sent("owner"); got != fee {
		t.Errorf("fee transfer = %d, want %d", got, fee)
	}
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1", "2")

	ctx := context.Background()
	first := f.startSingle(t, "alice", "1")
	second := f.startSingle(t, "alice", "2")

	f.clock.now = second.EndTime.Add(time.Second)
	if _, err := f.svc.Claim(ctx, "alice", first.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := f.svc.Claim(ctx, "alice", second.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	total, err := f.svc.Withdraw(ctx, "owner", []int64{first.ID, second.ID})
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if total != 2*minBid {
		t.Errorf("total = %d, want %d", total, int64(2*minBid))
	}
	if got := f.treasury.Sent("owner"); got != 2*minBid {
		t.Errorf("transfer = %d, want %d", got, int64(2*minBid))
	}

	// Withdraw is not idempotent per ID.
	if _, err := f.svc.Withdraw(ctx, "owner", []int64{first.ID}); !errors.Is(err, ErrAuctionNotClaimed) {
		t.Fatalf("second withdraw error = %v, want ErrAuctionNotClaimed", err)
	}
}

func TestWithdrawAbortsWholeBatch(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.mintSingles("1", "2")

	ctx := context.Background()
	claimed := f.startSingle(t, "alice", "1")
	active := f.startSingle(t, "alice", "2")

	f.clock.now = claimed.EndTime.Add(time.Second)
	if _, err := f.svc.Claim(ctx, "alice", claimed.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// The second auction was never claimed, so the whole batch must abort
	// with nothing marked.
	_, err := f.svc.Withdraw(ctx, "owner", []int64{claimed.ID, active.ID})
	if !errors.Is(err, ErrAuctionNotClaimed) {
		t.Fatalf("Withdraw error = %v, want ErrAuctionNotClaimed", err)
	}

	got, getErr := f.svc.GetAuction(ctx, claimed.ID)
	if getErr != nil {
		t.Fatalf("GetAuction failed: %v", getErr)
	}
	if got.Status != auction.StatusClaimed {
		t.Errorf("Status = %s, want claimed (batch aborted)", got.Status)
	}
	if sent := f.treasury.Sent("owner"); sent != 0 {
		t.Errorf("transfer = %d, want 0", sent)
	}
}

func TestWithdrawBalance(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1")

	ctx := context.Background()

	if _, err := f.svc.WithdrawBalance(ctx, "alice"); !errors.Is(err, ErrNoBalanceToWithdraw) {
		t.Fatalf("empty withdraw error = %v, want ErrNoBalanceToWithdraw", err)
	}

	rec := f.startSingle(t, "alice", "1")
	if _, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+increment, minBid+increment); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	taken, err := f.svc.WithdrawBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("WithdrawBalance failed: %v", err)
	}
	if taken != minBid {
		t.Errorf("taken = %d, want %d", taken, int64(minBid))
	}
	if got := f.treasury.Sent("alice"); got != minBid {
		t.Errorf("transfer = %d, want %d", got, int64(minBid))
	}

	if _, err := f.svc.WithdrawBalance(ctx, "alice"); !errors.Is(err, ErrNoBalanceToWithdraw) {
		t.Fatalf("repeat withdraw error = %v, want ErrNoBalanceToWithdraw", err)
	}
}

func TestWithdrawBalanceTransferFailureRestores(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1")

	ctx := context.Background()
	rec := f.startSingle(t, "alice", "1")
	if _, err := f.svc.Bid(ctx, "bob", rec.ID, minBid+increment, minBid+increment); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	f.treasury.FailTransfers = true
	if _, err := f.svc.WithdrawBalance(ctx, "alice"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("WithdrawBalance error = %v, want ErrTransferFailed", err)
	}
	if got := f.balance(t, "alice"); got != minBid {
		t.Errorf("balance after failed transfer = %d, want %d", got, int64(minBid))
	}
}

func TestRewardsCountOnlyClaimedAuctions(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")
	f.grantTickets(t, "bob")
	f.mintSingles("1", "2")

	ctx := context.Background()
	claimedRec := f.startSingle(t, "alice", "1")
	openRec := f.startSingle(t, "alice", "2")

	if _, err := f.svc.Bid(ctx, "bob", claimedRec.ID, minBid+increment, minBid+increment); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if _, err := f.svc.Bid(ctx, "bob", openRec.ID, minBid+increment, minBid+increment); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	f.clock.advance(25 * time.Hour)
	if _, err := f.svc.Claim(ctx, "bob", claimedRec.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	got, err := f.svc.RewardsFor(ctx, "alice", []int64{claimedRec.ID, openRec.ID})
	if err != nil {
		t.Fatalf("RewardsFor failed: %v", err)
	}
	if got != increment/10 {
		t.Errorf("RewardsFor = %d, want %d (open auction excluded)", got, int64(increment/10))
	}
}

func TestMultiUnitBatchLifecycle(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")

	col := f.registry.Collection(contract)
	col.MintMulti("10", "custodian", 5)
	col.MintMulti("11", "custodian", 3)

	ctx := context.Background()
	rec, err := f.svc.Start(ctx, StartRequest{
		Caller:        "alice",
		Kind:          auction.KindMultiUnitBatch,
		TokenContract: contract,
		TokenIDs:      []string{"10", "11"},
		Quantities:    []int64{4, 2},
		StartingBid:   minBid,
		Attached:      minBid,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if rec.TotalQuantity() != 6 {
		t.Errorf("TotalQuantity = %d, want 6", rec.TotalQuantity())
	}

	f.clock.now = rec.EndTime.Add(time.Second)
	if _, err := f.svc.Claim(ctx, "alice", rec.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	held, _ := col.BalanceOf(ctx, "alice", "10")
	if held != 4 {
		t.Errorf("alice token 10 balance = %d, want 4", held)
	}
	held, _ = col.BalanceOf(ctx, "custodian", "10")
	if held != 1 {
		t.Errorf("custodian token 10 balance = %d, want 1", held)
	}
}

func TestMultiUnitSupplyCheck(t *testing.T) {
	f := newFixture(t)
	f.grantTickets(t, "alice")

	f.registry.Collection(contract).MintMulti("10", "custodian", 2)

	_, err := f.svc.Start(context.Background(), StartRequest{
		Caller:        "alice",
		Kind:          auction.KindMultiUnitBatch,
		TokenContract: contract,
		TokenIDs:      []string{"10"},
		Quantities:    []int64{3},
		StartingBid:   minBid,
		Attached:      minBid,
	})
	if !errors.Is(err, ErrNotEnoughSupply) {
		t.Fatalf("Start error = %v, want ErrNotEnoughSupply", err)
	}
}

func TestAdminSetters(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.SetRewardPercent("mallory", 50); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner setter error = %v, want ErrNotOwner", err)
	}
	if err := f.svc.SetRewardPercent("owner", 101); !errors.Is(err, ErrInvalidFeePercentage) {
		t.Fatalf("out-of-range error = %v, want ErrInvalidFeePercentage", err)
	}
	if err := f.svc.SetAbandonFeePercent("owner", 101); !errors.Is(err, ErrInvalidFeePercentage) {
		t.Fatalf("out-of-range error = %v, want ErrInvalidFeePercentage", err)
	}

	if err := f.svc.SetRewardPercent("owner", 25); err != nil {
		t.Fatalf("SetRewardPercent failed: %v", err)
	}
	if got := f.svc.Settings().RewardPercent; got != 25 {
		t.Errorf("RewardPercent = %d, want 25", got)
	}
}
