package connpool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"arbengine/internal/exchange"
	"arbengine/pkg/types"
)

// contentDigest computes a pluggable digest for a raw event: prefer the
// exchange-provided sequence/hash; fall back to a content hash of
// (bids, asks); fall back further to a timestamp+token
// composite if even the content is empty.
func contentDigest(evt exchange.RawEvent) string {
	if evt.Sequence != "" {
		return evt.Sequence
	}

	h := sha256.New()
	for _, b := range evt.Bids {
		fmt.Fprintf(h, "b:%s:%s;", b.Price.String(), b.Size.String())
	}
	for _, a := range evt.Asks {
		fmt.Fprintf(h, "a:%s:%s;", a.Price.String(), a.Size.String())
	}
	sum := h.Sum(nil)
	if len(evt.Bids) == 0 && len(evt.Asks) == 0 {
		return fmt.Sprintf("%s:%d", evt.TokenId, evt.Timestamp.UnixNano())
	}
	return hex.EncodeToString(sum)
}

// dedupCache suppresses a (token_id, content_digest) pair seen within
// cache_ttl, bounded by an LRU of max_cache_entries.
type dedupCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func newDedupCache(maxEntries int, ttl time.Duration) (*dedupCache, error) {
	c, err := lru.New[string, time.Time](maxEntries)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &dedupCache{cache: c, ttl: ttl}, nil
}

// seen reports whether (token, digest) was already observed within ttl,
// and records the current observation either way.
func (d *dedupCache) seen(token types.TokenId, digest string) bool {
	key := string(token) + "|" + digest

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.cache.Get(key); ok {
		if time.Since(last) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}
