// Package market defines the flat-price marketplace records.
package market

import "time"

// SalePrice is one entry in the marketplace pricing table.
type SalePrice struct {
	TokenContract string    `json:"token_contract"`
	TokenID       string    `json:"token_id"`
	Price         int64     `json:"price"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Purchase records one completed buy-now transaction.
type Purchase struct {
	ID            string    `json:"id"`
	Buyer         string    `json:"buyer"`
	TokenContract string    `json:"token_contract"`
	TokenIDs      []string  `json:"token_ids"`
	Total         int64     `json:"total"`
	CreatedAt     time.Time `json:"created_at"`
}
