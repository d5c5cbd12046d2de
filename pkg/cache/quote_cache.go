package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Quote is the latest market snapshot for a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Volume float64   `json:"volume"`
	Ts     time.Time `json:"ts"`
}

// Mid returns the midpoint price.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Spread returns ask minus bid.
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// ShardedQuoteCache is a read-heavy latest-quote cache with sharded locks so
// a burst on one symbol's shard does not contend with the rest.
type ShardedQuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// NewShardedQuoteCache creates an empty cache.
func NewShardedQuoteCache() *ShardedQuoteCache {
	c := &ShardedQuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]Quote)}
	}
	return c
}

func (c *ShardedQuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest quote for a symbol.
func (c *ShardedQuoteCache) Set(q Quote) {
	shard := c.getShard(q.Symbol)
	shard.mu.Lock()
	shard.items[q.Symbol] = q
	shard.mu.Unlock()
}

// Get retrieves the latest quote for a symbol.
func (c *ShardedQuoteCache) Get(symbol string) (Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	q, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return q, ok
}

// GetFresh retrieves the quote only if it is newer than maxAge.
func (c *ShardedQuoteCache) GetFresh(symbol string, maxAge time.Duration) (Quote, bool) {
	q, ok := c.Get(symbol)
	if !ok || time.Since(q.Ts) > maxAge {
		return Quote{}, false
	}
	return q, true
}

// Symbols returns all symbols currently cached.
func (c *ShardedQuoteCache) Symbols() []string {
	var out []string
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym := range shard.items {
			out = append(out, sym)
		}
		shard.mu.RUnlock()
	}
	return out
}
