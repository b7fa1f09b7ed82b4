package state

import (
	"sort"
	"sync"
)

// OrderReader is the read-only view over open orders and positions that
// validation and snapshot building consume.
type OrderReader interface {
	GetAllOrders() []Order
	GetPositions() []Position
	TryGetOrderByID(id string) (Order, bool)
	GetRelatedOrders(ids []string) []Order
}

// OrderSnapshotter produces a frozen copy of the live cache.
type OrderSnapshotter interface {
	Snapshot() *FrozenOrders
}

// OrdersCache holds open orders and positions for the trading engine.
// Writers (order execution, position closing) and readers (snapshot
// pipeline) run concurrently; every access goes through the RWMutex so each
// read observes a non-torn view.
type OrdersCache struct {
	mu        sync.RWMutex
	orders    map[string]Order
	positions map[string]Position
}

func NewOrdersCache() *OrdersCache {
	return &OrdersCache{
		orders:    make(map[string]Order),
		positions: make(map[string]Position),
	}
}

// Init replaces the whole cache content, used on warm start.
func (c *OrdersCache) Init(orders []Order, positions []Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders = make(map[string]Order, len(orders))
	for _, o := range orders {
		c.orders[o.ID] = o.clone()
	}
	c.positions = make(map[string]Position, len(positions))
	for _, p := range positions {
		c.positions[p.ID] = p.clone()
	}
}

// UpsertOrder adds or replaces an order. Orders leaving an open status are removed.
func (c *OrdersCache) UpsertOrder(o Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !o.Status.IsOpen() {
		delete(c.orders, o.ID)
		return
	}
	c.orders[o.ID] = o.clone()
}

// RemoveOrder drops an order, returning false if it was unknown.
func (c *OrdersCache) RemoveOrder(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[id]; !ok {
		return false
	}
	delete(c.orders, id)
	return true
}

// UpsertPosition adds or replaces a position. Flat positions are removed.
func (c *OrdersCache) UpsertPosition(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.IsFlat() {
		delete(c.positions, p.ID)
		return
	}
	c.positions[p.ID] = p.clone()
}

// ClosePosition drops a position, returning false if it was unknown.
func (c *OrdersCache) ClosePosition(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.positions[id]; !ok {
		return false
	}
	delete(c.positions, id)
	return true
}

func (c *OrdersCache) GetAllOrders() []Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedOrders(c.orders)
}

func (c *OrdersCache) GetPositions() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedPositions(c.positions)
}

func (c *OrdersCache) TryGetOrderByID(id string) (Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	o, ok := c.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// GetRelatedOrders resolves the given ids, skipping unknown ones.
func (c *OrdersCache) GetRelatedOrders(ids []string) []Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookupOrders(c.orders, ids)
}

// Snapshot copies orders and positions under a single read lock, so the
// frozen view is consistent across both collections.
func (c *OrdersCache) Snapshot() *FrozenOrders {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f := &FrozenOrders{
		orders:    make(map[string]Order, len(c.orders)),
		positions: make(map[string]Position, len(c.positions)),
	}
	for id, o := range c.orders {
		f.orders[id] = o.clone()
	}
	for id, p := range c.positions {
		f.positions[id] = p.clone()
	}
	f.orderList = sortedOrders(f.orders)
	f.positionList = sortedPositions(f.positions)
	return f
}

// FrozenOrders is an immutable copy of the orders cache at one moment.
type FrozenOrders struct {
	orders       map[string]Order
	positions    map[string]Position
	orderList    []Order
	positionList []Position
}

// NewFrozenOrders builds a frozen view directly from slices. Duplicated ids
// are kept in the ordered lists so consistency checks can still see them.
func NewFrozenOrders(orders []Order, positions []Position) *FrozenOrders {
	f := &FrozenOrders{
		orders:       make(map[string]Order, len(orders)),
		positions:    make(map[string]Position, len(positions)),
		orderList:    make([]Order, 0, len(orders)),
		positionList: make([]Position, 0, len(positions)),
	}
	for _, o := range orders {
		f.orders[o.ID] = o.clone()
		f.orderList = append(f.orderList, o.clone())
	}
	for _, p := range positions {
		f.positions[p.ID] = p.clone()
		f.positionList = append(f.positionList, p.clone())
	}
	return f
}

func (f *FrozenOrders) GetAllOrders() []Order {
	out := make([]Order, len(f.orderList))
	for i, o := range f.orderList {
		out[i] = o.clone()
	}
	return out
}

func (f *FrozenOrders) GetPositions() []Position {
	out := make([]Position, len(f.positionList))
	for i, p := range f.positionList {
		out[i] = p.clone()
	}
	return out
}

func (f *FrozenOrders) TryGetOrderByID(id string) (Order, bool) {
	o, ok := f.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

func (f *FrozenOrders) GetRelatedOrders(ids []string) []Order {
	return lookupOrders(f.orders, ids)
}

// TryGetPositionByID is only available on frozen views; live lookups go
// through the trading engine.
func (f *FrozenOrders) TryGetPositionByID(id string) (Position, bool) {
	p, ok := f.positions[id]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// --- Helpers ---

func lookupOrders(orders map[string]Order, ids []string) []Order {
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := orders[id]; ok {
			out = append(out, o.clone())
		}
	}
	return out
}

// sortedOrders returns orders by creation time, ties broken by id.
func sortedOrders(m map[string]Order) []Order {
	out := make([]Order, 0, len(m))
	for _, o := range m {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedPositions(m map[string]Position) []Position {
	out := make([]Position, 0, len(m))
	for _, p := range m {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
