package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryRegistry is an in-process CollectionRegistry for tests and local
// development. Collections are created on first mint.
type MemoryRegistry struct {
	mu          sync.RWMutex
	collections map[string]*MemoryCollection
}

var _ CollectionRegistry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{collections: make(map[string]*MemoryCollection)}
}

// Collection returns the collection at the address, creating it if needed.
func (r *MemoryRegistry) Collection(contract string) *MemoryCollection {
	key := strings.ToLower(strings.TrimSpace(contract))

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collections[key]; ok {
		return c
	}
	c := &MemoryCollection{
		owners:    make(map[string]string),
		balances:  make(map[string]map[string]int64),
		approvals: make(map[string]bool),
	}
	r.collections[key] = c
	return c
}

func (r *MemoryRegistry) lookup(contract string) (*MemoryCollection, error) {
	key := strings.ToLower(strings.TrimSpace(contract))

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", contract, ErrUnknownContract)
	}
	return c, nil
}

func (r *MemoryRegistry) Single(contract string) (SingleUnitCollection, error) {
	return r.lookup(contract)
}

func (r *MemoryRegistry) Multi(contract string) (MultiUnitCollection, error) {
	return r.lookup(contract)
}

// MemoryCollection implements both collection capability surfaces over plain
// maps. Single-unit state lives in owners, multi-unit state in balances.
type MemoryCollection struct {
	mu        sync.RWMutex
	owners    map[string]string           // tokenID -> owner
	balances  map[string]map[string]int64 // owner -> tokenID -> quantity
	approvals map[string]bool             // owner/operator -> approved

	// FailTransfers makes every transfer fail. Used to exercise the
	// external-transfer-failure paths.
	FailTransfers bool
}

var _ SingleUnitCollection = (*MemoryCollection)(nil)
var _ MultiUnitCollection = (*MemoryCollection)(nil)

// MintSingle assigns a token to an owner.
func (c *MemoryCollection) MintSingle(tokenID, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[tokenID] = addrKey(owner)
}

// MintMulti credits quantity units of a token to an owner.
func (c *MemoryCollection) MintMulti(tokenID, owner string, quantity int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.balances[addrKey(owner)]
	if held == nil {
		held = make(map[string]int64)
		c.balances[addrKey(owner)] = held
	}
	held[tokenID] += quantity
}

// SetApprovalForAll records a blanket operator approval.
func (c *MemoryCollection) SetApprovalForAll(owner, operator string, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals[approvalKey(owner, operator)] = approved
}

func (c *MemoryCollection) OwnerOf(_ context.Context, tokenID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("token %s has no owner", tokenID)
	}
	return owner, nil
}

func (c *MemoryCollection) BalanceOf(_ context.Context, owner, tokenID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances[addrKey(owner)][tokenID], nil
}

func (c *MemoryCollection) IsApprovedForAll(_ context.Context, owner, operator string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approvals[approvalKey(owner, operator)], nil
}

func (c *MemoryCollection) TransferFrom(_ context.Context, from, to, tokenID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailTransfers {
		return fmt.Errorf("transfer of token %s rejected by collection", tokenID)
	}
	if c.owners[tokenID] != addrKey(from) {
		return fmt.Errorf("token %s not owned by %s", tokenID, from)
	}
	c.owners[tokenID] = addrKey(to)
	return nil
}

func (c *MemoryCollection) BatchTransferFrom(_ context.Context, from, to string, tokenIDs []string, quantities []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailTransfers {
		return fmt.Errorf("batch transfer rejected by collection")
	}
	if len(tokenIDs) != len(quantities) {
		return fmt.Errorf("token/quantity length mismatch")
	}

	held := c.balances[addrKey(from)]
	for i, tokenID := range tokenIDs {
		if held[tokenID] < quantities[i] {
			return fmt.Errorf("insufficient balance of token %s for %s", tokenID, from)
		}
	}

	dest := c.balances[addrKey(to)]
	if dest == nil {
		dest = make(map[string]int64)
		c.balances[addrKey(to)] = dest
	}
	for i, tokenID := range tokenIDs {
		held[tokenID] -= quantities[i]
		dest[tokenID] += quantities[i]
	}
	return nil
}

// MemoryTreasury records value transfers for tests and local runs.
type MemoryTreasury struct {
	mu        sync.Mutex
	transfers map[string]int64

	// FailTransfers makes every transfer fail.
	FailTransfers bool
}

var _ Treasury = (*MemoryTreasury)(nil)

// NewMemoryTreasury creates an empty treasury.
func NewMemoryTreasury() *MemoryTreasury {
	return &MemoryTreasury{transfers: make(map[string]int64)}
}

func (t *MemoryTreasury) Transfer(_ context.Context, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailTransfers {
		return fmt.Errorf("value transfer to %s rejected", to)
	}
	t.transfers[addrKey(to)] += amount
	return nil
}

// Sent returns the total value transferred to an address.
func (t *MemoryTreasury) Sent(to string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfers[addrKey(to)]
}

func addrKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func approvalKey(owner, operator string) string {
	return addrKey(owner) + "/" + addrKey(operator)
}
