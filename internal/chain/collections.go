// Package chain defines the boundary to the external token collections and
// the value-transfer rail. The auction engine only consumes these interfaces;
// a memory-backed implementation ships for tests and local runs.
package chain

import (
	"context"
	"errors"
)

// ErrUnknownContract is returned when a registry has no collection at the
// requested address.
var ErrUnknownContract = errors.New("unknown token contract")

// SingleUnitCollection is a token collection where every token ID is a unique
// unit (ERC-721 capability surface).
type SingleUnitCollection interface {
	// OwnerOf returns the current owner of a token.
	OwnerOf(ctx context.Context, tokenID string) (string, error)

	// IsApprovedForAll reports whether operator may move any of owner's tokens.
	IsApprovedForAll(ctx context.Context, owner, operator string) (bool, error)

	// TransferFrom moves one token. The transfer either completes or fails;
	// a failure must leave ownership unchanged.
	TransferFrom(ctx context.Context, from, to, tokenID string) error
}

// MultiUnitCollection is a token collection where token IDs carry balances
// (ERC-1155 capability surface).
type MultiUnitCollection interface {
	// BalanceOf returns how many units of tokenID the owner holds.
	BalanceOf(ctx context.Context, owner, tokenID string) (int64, error)

	// IsApprovedForAll reports whether operator may move any of owner's tokens.
	IsApprovedForAll(ctx context.Context, owner, operator string) (bool, error)

	// BatchTransferFrom moves several token balances in one call.
	BatchTransferFrom(ctx context.Context, from, to string, tokenIDs []string, quantities []int64) error
}

// CollectionRegistry resolves contract addresses to collection clients.
type CollectionRegistry interface {
	Single(contract string) (SingleUnitCollection, error)
	Multi(contract string) (MultiUnitCollection, error)
}

// Treasury performs direct value transfers out of escrow. Used for the
// settlement payouts that bypass the pull-payment ledger; a failed transfer
// is fatal to the enclosing operation.
type Treasury interface {
	Transfer(ctx context.Context, to string, amount int64) error
}
