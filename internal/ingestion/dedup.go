package ingestion

import (
	"MarginTrading/internal/observability"
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DedupCache implements two-tier deduplication of snapshot requests: an
// in-memory LRU of recently accepted ids in front of a durable log.
type DedupCache struct {
	mu  sync.Mutex
	lru *idLRU

	durable RequestDeduper
	metrics *observability.Metrics
}

func NewDedupCache(durable RequestDeduper, capacity int, metrics *observability.Metrics) *DedupCache {
	return &DedupCache{
		lru:     newIDLRU(capacity),
		durable: durable,
		metrics: metrics,
	}
}

// MarkSeen reports whether id is new. Durable log errors are returned so
// the message is redelivered rather than accepted twice.
func (d *DedupCache) MarkSeen(ctx context.Context, id uuid.UUID, initiator string, tradingDay time.Time) (bool, error) {
	// Tier 1: LRU check (hot path)
	d.mu.Lock()
	hit := d.lru.contains(id)
	d.mu.Unlock()
	if hit {
		d.metrics.RequestDuplicates.WithLabelValues("lru").Inc()
		return false, nil
	}

	// Tier 2: durable log (cold path)
	first, err := d.durable.MarkSeen(ctx, id, initiator, tradingDay)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	d.lru.add(id)
	d.mu.Unlock()

	if !first {
		d.metrics.RequestDuplicates.WithLabelValues("durable").Inc()
	}
	return first, nil
}

// Size returns the number of ids held in memory.
func (d *DedupCache) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.list.Len()
}

// --- LRU Implementation ---

// idLRU is not thread-safe; DedupCache guards it.
type idLRU struct {
	capacity int
	index    map[uuid.UUID]*list.Element
	list     *list.List
}

func newIDLRU(capacity int) *idLRU {
	return &idLRU{
		capacity: capacity,
		index:    make(map[uuid.UUID]*list.Element, capacity),
		list:     list.New(),
	}
}

// contains checks if id exists (promotes to front)
func (l *idLRU) contains(id uuid.UUID) bool {
	elem, ok := l.index[id]
	if ok {
		l.list.MoveToFront(elem)
	}
	return ok
}

func (l *idLRU) add(id uuid.UUID) {
	if elem, ok := l.index[id]; ok {
		l.list.MoveToFront(elem)
		return
	}
	l.index[id] = l.list.PushFront(id)

	if l.list.Len() > l.capacity {
		oldest := l.list.Back()
		l.list.Remove(oldest)
		delete(l.index, oldest.Value.(uuid.UUID))
	}
}
