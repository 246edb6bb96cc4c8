package storage

import (
	"context"
	"errors"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/domain/market"
)

// ErrNotFound is returned by stores when the requested record does not exist.
// Implementations wrap it with record identity for context.
var ErrNotFound = errors.New("not found")

// AuctionStore persists the append-only auction registry. CreateAuction
// assigns the next sequential ID (starting at 1); records are never deleted.
type AuctionStore interface {
	CreateAuction(ctx context.Context, rec auction.Auction) (auction.Auction, error)
	UpdateAuction(ctx context.Context, rec auction.Auction) (auction.Auction, error)
	GetAuction(ctx context.Context, id int64) (auction.Auction, error)
	ListAuctions(ctx context.Context) ([]auction.Auction, error)
	ListAuctionsByStatus(ctx context.Context, status auction.Status) ([]auction.Auction, error)
}

// BalanceStore persists the pull-payment balance ledger. Absent addresses
// read as zero.
type BalanceStore interface {
	GetBalance(ctx context.Context, addr string) (int64, error)
	SetBalance(ctx context.Context, addr string, amount int64) error
	ListBalances(ctx context.Context) (map[string]int64, error)
}

// MarketStore persists the marketplace pricing table and purchase history.
type MarketStore interface {
	UpsertSalePrice(ctx context.Context, price market.SalePrice) (market.SalePrice, error)
	GetSalePrice(ctx context.Context, contract, tokenID string) (market.SalePrice, error)
	DeleteSalePrice(ctx context.Context, contract, tokenID string) error
	ListSalePrices(ctx context.Context, contract string) ([]market.SalePrice, error)

	CreatePurchase(ctx context.Context, purchase market.Purchase) (market.Purchase, error)
	ListPurchases(ctx context.Context, buyer string) ([]market.Purchase, error)
}

// TicketStore persists participation ticket balances per holder and kind.
type TicketStore interface {
	GetTicketBalance(ctx context.Context, holder, kind string) (int64, error)
	SetTicketBalance(ctx context.Context, holder, kind string, amount int64) error
}
