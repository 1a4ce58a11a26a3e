// Package bookcache publishes the current best-effort snapshot of every
// subscribed token's order book to all strategies.
//
// Single-writer-per-token discipline is enforced by the caller (the
// connection pool's dedup output partitions updates by TokenId before
// calling Update), so the cache itself only needs to guarantee that reads
// never observe a torn book and that writers never block each other across
// distinct tokens.
package bookcache

import (
	"sync"

	"arbengine/pkg/types"
)

// Cache is a concurrent snapshot store keyed by token id. Each entry has
// its own lock so that writes to distinct tokens never contend.
type Cache struct {
	mu      sync.RWMutex
	entries map[types.TokenId]*entry
}

type entry struct {
	mu   sync.RWMutex
	book types.OrderBook
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[types.TokenId]*entry)}
}

func (c *Cache) entryFor(token types.TokenId) *entry {
	c.mu.RLock()
	e, ok := c.entries[token]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[token]; ok {
		return e
	}
	e = &entry{}
	c.entries[token] = e
	return e
}

// Update atomically replaces the entry for a book's token. Callers
// guarantee UpdatedAt never decreases for a given token.
func (c *Cache) Update(book types.OrderBook) {
	e := c.entryFor(book.TokenId)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book = book
}

// Get returns a consistent snapshot of a token's book, or false if the
// token has never been observed.
func (c *Cache) Get(token types.TokenId) (types.OrderBook, bool) {
	c.mu.RLock()
	e, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return types.OrderBook{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.book.TokenId == "" {
		return types.OrderBook{}, false
	}
	return e.book, true
}

// GetPair returns both books atomically with respect to each book's own
// writer (there is no cross-token atomicity guarantee, matching the "no
// global order between tokens" rule).
func (c *Cache) GetPair(a, b types.TokenId) (types.OrderBook, types.OrderBook, bool) {
	ba, ok := c.Get(a)
	if !ok {
		return types.OrderBook{}, types.OrderBook{}, false
	}
	bb, ok := c.Get(b)
	if !ok {
		return types.OrderBook{}, types.OrderBook{}, false
	}
	return ba, bb, true
}

// GetMany returns the current books for a set of tokens. A missing token is
// simply absent from the result map — callers that require all of them
// check len(result) == len(tokens).
func (c *Cache) GetMany(tokens []types.TokenId) map[types.TokenId]types.OrderBook {
	out := make(map[types.TokenId]types.OrderBook, len(tokens))
	for _, t := range tokens {
		if book, ok := c.Get(t); ok {
			out[t] = book
		}
	}
	return out
}

// Len returns the number of tokens currently tracked.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
