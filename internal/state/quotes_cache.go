package state

import "sync"

// QuoteReader exposes the best prices known to the platform.
type QuoteReader interface {
	GetAllQuotes() map[string]BidAskPair
}

// QuotesCache keeps the latest BidAskPair per instrument. The platform runs
// two instances: one for trading instruments and one for FX rates.
type QuotesCache struct {
	mu     sync.RWMutex
	quotes map[string]BidAskPair
}

func NewQuotesCache() *QuotesCache {
	return &QuotesCache{quotes: make(map[string]BidAskPair)}
}

// Init replaces the cache content.
func (c *QuotesCache) Init(quotes map[string]BidAskPair) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quotes = make(map[string]BidAskPair, len(quotes))
	for k, v := range quotes {
		c.quotes[k] = v
	}
}

// Set stores a quote unless a newer one is already cached (stale updates
// are ignored, same rule as mark price sequencing).
func (c *QuotesCache) Set(q BidAskPair) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.quotes[q.Instrument]; ok && cur.Date.After(q.Date) {
		return false
	}
	c.quotes[q.Instrument] = q
	return true
}

func (c *QuotesCache) TryGet(instrument string) (BidAskPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[instrument]
	return q, ok
}

// GetAllQuotes returns a copy of every cached quote.
func (c *QuotesCache) GetAllQuotes() map[string]BidAskPair {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]BidAskPair, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}
