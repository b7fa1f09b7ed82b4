package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// AccountReader is the read side of the accounts cache.
type AccountReader interface {
	GetAll() []Account
	TryGet(id string) (Account, bool)
	GetAllWhereLiquidationIsRunning(ctx context.Context) ([]Account, error)
}

// LiquidationChecker reports whether a liquidation is currently running for
// an account. Backed by the shared key-value store in production.
type LiquidationChecker interface {
	IsRunning(ctx context.Context, accountID string) (bool, error)
}

// AccountsCache holds margin accounts keyed by id.
type AccountsCache struct {
	mu           sync.RWMutex
	accounts     map[string]Account
	liquidations LiquidationChecker
}

func NewAccountsCache(liquidations LiquidationChecker) *AccountsCache {
	return &AccountsCache{
		accounts:     make(map[string]Account),
		liquidations: liquidations,
	}
}

// Init replaces the cache content.
func (c *AccountsCache) Init(accounts []Account) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts = make(map[string]Account, len(accounts))
	for _, a := range accounts {
		c.accounts[a.ID] = a
	}
}

// Upsert stores the account if it is newer than the cached copy.
func (c *AccountsCache) Upsert(a Account) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.accounts[a.ID]; ok && cur.ModifiedAt.After(a.ModifiedAt) {
		return false
	}
	c.accounts[a.ID] = a
	return true
}

func (c *AccountsCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, id)
}

// GetAll returns all accounts ordered by id.
func (c *AccountsCache) GetAll() []Account {
	c.mu.RLock()
	out := make([]Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *AccountsCache) TryGet(id string) (Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

// GetAllWhereLiquidationIsRunning checks every account against the
// liquidation registry. The accounts list is read once; registry lookups
// happen outside the cache lock.
func (c *AccountsCache) GetAllWhereLiquidationIsRunning(ctx context.Context) ([]Account, error) {
	if c.liquidations == nil {
		return []Account{}, nil
	}

	accounts := c.GetAll()
	out := make([]Account, 0)
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		running, err := c.liquidations.IsRunning(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("check liquidation for account %s: %w", a.ID, err)
		}
		if running {
			out = append(out, a)
		}
	}
	return out, nil
}
