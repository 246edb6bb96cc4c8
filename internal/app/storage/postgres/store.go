package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/domain/market"
	"github.com/tokenhall/auctionhouse/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AuctionStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)
var _ storage.MarketStore = (*Store)(nil)
var _ storage.TicketStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS auctions (
	id             BIGSERIAL PRIMARY KEY,
	kind           TEXT NOT NULL,
	token_contract TEXT NOT NULL,
	end_time       TIMESTAMPTZ NOT NULL,
	item_count     INT NOT NULL,
	status         TEXT NOT NULL,
	highest_bidder TEXT NOT NULL,
	highest_bid    BIGINT NOT NULL,
	items          JSONB NOT NULL,
	rewards        JSONB,
	reward_order   JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auctions_status_idx ON auctions (status);

CREATE TABLE IF NOT EXISTS balances (
	address TEXT PRIMARY KEY,
	amount  BIGINT NOT NULL CHECK (amount >= 0)
);

CREATE TABLE IF NOT EXISTS sale_prices (
	token_contract TEXT NOT NULL,
	token_id       TEXT NOT NULL,
	price          BIGINT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (token_contract, token_id)
);

CREATE TABLE IF NOT EXISTS purchases (
	id             TEXT PRIMARY KEY,
	buyer          TEXT NOT NULL,
	token_contract TEXT NOT NULL,
	token_ids      JSONB NOT NULL,
	total          BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	holder TEXT NOT NULL,
	kind   TEXT NOT NULL,
	amount BIGINT NOT NULL CHECK (amount >= 0),
	PRIMARY KEY (holder, kind)
);
`

// --- AuctionStore -----------------------------------------------------------

func (s *Store) CreateAuction(ctx context.Context, rec auction.Auction) (auction.Auction, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	itemsJSON, rewardsJSON, orderJSON, err := marshalAuctionJSON(rec)
	if err != nil {
		return auction.Auction{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO auctions (kind, token_contract, end_time, item_count, status,
			highest_bidder, highest_bid, items, rewards, reward_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, rec.Kind, rec.TokenContract, rec.EndTime, rec.ItemCount, rec.Status,
		rec.HighestBidder, rec.HighestBid, itemsJSON, rewardsJSON, orderJSON, rec.CreatedAt, rec.UpdatedAt)

	if err := row.Scan(&rec.ID); err != nil {
		return auction.Auction{}, err
	}
	return rec, nil
}

func (s *Store) UpdateAuction(ctx context.Context, rec auction.Auction) (auction.Auction, error) {
	rec.UpdatedAt = time.Now().UTC()

	itemsJSON, rewardsJSON, orderJSON, err := marshalAuctionJSON(rec)
	if err != nil {
		return auction.Auction{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET end_time = $2, status = $3, highest_bidder = $4, highest_bid = $5,
			items = $6, rewards = $7, reward_order = $8, updated_at = $9
		WHERE id = $1
	`, rec.ID, rec.EndTime, rec.Status, rec.HighestBidder, rec.HighestBid,
		itemsJSON, rewardsJSON, orderJSON, rec.UpdatedAt)
	if err != nil {
		return auction.Auction{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return auction.Auction{}, fmt.Errorf("auction %d: %w", rec.ID, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetAuction(ctx context.Context, id int64) (auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, token_contract, end_time, item_count, status,
			highest_bidder, highest_bid, items, rewards, reward_order, created_at, updated_at
		FROM auctions
		WHERE id = $1
	`, id)

	rec, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Auction{}, fmt.Errorf("auction %d: %w", id, storage.ErrNotFound)
	}
	return rec, err
}

func (s *Store) ListAuctions(ctx context.Context) ([]auction.Auction, error) {
	return s.queryAuctions(ctx, `
		SELECT id, kind, token_contract, end_time, item_count, status,
			highest_bidder, highest_bid, items, rewards, reward_order, created_at, updated_at
		FROM auctions
		ORDER BY id
	`)
}

func (s *Store) ListAuctionsByStatus(ctx context.Context, status auction.Status) ([]auction.Auction, error) {
	return s.queryAuctions(ctx, `
		SELECT id, kind, token_contract, end_time, item_count, status,
			highest_bidder, highest_bid, items, rewards, reward_order, created_at, updated_at
		FROM auctions
		WHERE status = $1
		ORDER BY id
	`, string(status))
}

func (s *Store) queryAuctions(ctx context.Context, query string, args ...any) ([]auction.Auction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auction.Auction
	for rows.Next() {
		rec, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAuction(row scannable) (auction.Auction, error) {
	var (
		rec        auction.Auction
		itemsRaw   []byte
		rewardsRaw []byte
		orderRaw   []byte
	)
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.TokenContract, &rec.EndTime, &rec.ItemCount,
		&rec.Status, &rec.HighestBidder, &rec.HighestBid, &itemsRaw, &rewardsRaw, &orderRaw,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return auction.Auction{}, err
	}

	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &rec.Items); err != nil {
			return auction.Auction{}, err
		}
	}
	if len(rewardsRaw) > 0 {
		_ = json.Unmarshal(rewardsRaw, &rec.Rewards)
	}
	if len(orderRaw) > 0 {
		_ = json.Unmarshal(orderRaw, &rec.RewardOrder)
	}
	return rec, nil
}

func marshalAuctionJSON(rec auction.Auction) (items, rewards, order []byte, err error) {
	items, err = json.Marshal(rec.Items)
	if err != nil {
		return nil, nil, nil, err
	}
	rewards, err = json.Marshal(rec.Rewards)
	if err != nil {
		return nil, nil, nil, err
	}
	order, err = json.Marshal(rec.RewardOrder)
	if err != nil {
		return nil, nil, nil, err
	}
	return items, rewards, order, nil
}

// --- BalanceStore -----------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, addr string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM balances WHERE address = lower($1)
	`, addr).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (s *Store) SetBalance(ctx context.Context, addr string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("balance for %s cannot be negative", addr)
	}
	if amount == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM balances WHERE address = lower($1)`, addr)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (address, amount) VALUES (lower($1), $2)
		ON CONFLICT (address) DO UPDATE SET amount = EXCLUDED.amount
	`, addr, amount)
	return err
}

func (s *Store) ListBalances(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, amount FROM balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var (
			addr   string
			amount int64
		)
		if err := rows.Scan(&addr, &amount); err != nil {
			return nil, err
		}
		result[addr] = amount
	}
	return result, rows.Err()
}

// --- MarketStore ------------------------------------------------------------

func (s *Store) UpsertSalePrice(ctx context.Context, price market.SalePrice) (market.SalePrice, error) {
	price.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_prices (token_contract, token_id, price, updated_at)
		VALUES (lower($1), $2, $3, $4)
		ON CONFLICT (token_contract, token_id) DO UPDATE SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at
	`, price.TokenContract, price.TokenID, price.Price, price.UpdatedAt)
	if err != nil {
		return market.SalePrice{}, err
	}
	return price, nil
}

func (s *Store) GetSalePrice(ctx context.Context, contract, tokenID string) (market.SalePrice, error) {
	var price market.SalePrice
	err := s.db.QueryRowContext(ctx, `
		SELECT token_contract, token_id, price, updated_at
		FROM sale_prices
		WHERE token_contract = lower($1) AND token_id = $2
	`, contract, tokenID).Scan(&price.TokenContract, &price.TokenID, &price.Price, &price.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.SalePrice{}, fmt.Errorf("sale price for %s/%s: %w", contract, tokenID, storage.ErrNotFound)
	}
	return price, err
}

func (s *Store) DeleteSalePrice(ctx context.Context, contract, tokenID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sale_prices WHERE token_contract = lower($1) AND token_id = $2
	`, contract, tokenID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("sale price for %s/%s: %w", contract, tokenID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSalePrices(ctx context.Context, contract string) ([]market.SalePrice, error) {
	query := `SELECT token_contract, token_id, price, updated_at FROM sale_prices ORDER BY token_contract, token_id`
	args := []any{}
	if contract != "" {
		query = `SELECT token_contract, token_id, price, updated_at FROM sale_prices WHERE token_contract = lower($1) ORDER BY token_id`
		args = append(args, contract)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]market.SalePrice, 0)
	for rows.Next() {
		var price market.SalePrice
		if err := rows.Scan(&price.TokenContract, &price.TokenID, &price.Price, &price.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, price)
	}
	return result, rows.Err()
}

func (s *Store) CreatePurchase(ctx context.Context, purchase market.Purchase) (market.Purchase, error) {
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	purchase.CreatedAt = time.Now().UTC()

	idsJSON, err := json.Marshal(purchase.TokenIDs)
	if err != nil {
		return market.Purchase{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO purchases (id, buyer, token_contract, token_ids, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, purchase.ID, purchase.Buyer, purchase.TokenContract, idsJSON, purchase.Total, purchase.CreatedAt)
	if err != nil {
		return market.Purchase{}, err
	}
	return purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context, buyer string) ([]market.Purchase, error) {
	query := `SELECT id, buyer, token_contract, token_ids, total, created_at FROM purchases ORDER BY created_at`
	args := []any{}
	if buyer != "" {
		query = `SELECT id, buyer, token_contract, token_ids, total, created_at FROM purchases WHERE lower(buyer) = lower($1) ORDER BY created_at`
		args = append(args, buyer)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]market.Purchase, 0)
	for rows.Next() {
		var (
			purchase market.Purchase
			idsRaw   []byte
		)
		if err := rows.Scan(&purchase.ID, &purchase.Buyer, &purchase.TokenContract, &idsRaw, &purchase.Total, &purchase.CreatedAt); err != nil {
			return nil, err
		}
		if len(idsRaw) > 0 {
			_ = json.Unmarshal(idsRaw, &purchase.TokenIDs)
		}
		result = append(result, purchase)
	}
	return result, rows.Err()
}

// --- TicketStore ------------------------------------------------------------

func (s *Store) GetTicketBalance(ctx context.Context, holder, kind string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM tickets WHERE holder = lower($1) AND kind = $2
	`, holder, kind).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (s *Store) SetTicketBalance(ctx context.Context, holder, kind string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("ticket balance for %s/%s cannot be negative", holder, kind)
	}
	if amount == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE holder = lower($1) AND kind = $2`, holder, kind)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (holder, kind, amount) VALUES (lower($1), $2, $3)
		ON CONFLICT (holder, kind) DO UPDATE SET amount = EXCLUDED.amount
	`, holder, kind, amount)
	return err
}
