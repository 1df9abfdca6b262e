package txbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blockhash is a recent Solana blockhash plus the slot height it remains
// valid through.
type Blockhash struct {
	Hash                string    `json:"hash"`
	LastValidBlockHeight uint64   `json:"last_valid_block_height"`
	FetchedAt           time.Time `json:"fetched_at"`
}

const blockhashCacheKey = "mevengine:blockhash:latest"
const blockhashTTL = 10 * time.Second

// BlockhashSource fetches a fresh blockhash from the RPC endpoint.
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
}

// BlockhashCache serves the most recent blockhash, refreshing from source
// on expiry or explicit invalidation. Backed by Redis so multiple engine
// instances share one RPC call instead of each polling independently.
type BlockhashCache struct {
	mu     sync.Mutex
	source BlockhashSource
	rdb    *redis.Client
	local  *Blockhash
}

// NewBlockhashCache constructs a cache over source, optionally backed by
// rdb (nil disables the shared Redis tier and falls back to local-only).
func NewBlockhashCache(source BlockhashSource, rdb *redis.Client) *BlockhashCache {
	return &BlockhashCache{source: source, rdb: rdb}
}

// GetBlockhash returns a cached blockhash if still fresh, else fetches a
// new one and repopulates both the local and shared cache tiers.
func (c *BlockhashCache) GetBlockhash(ctx context.Context) (Blockhash, error) {
	c.mu.Lock()
	if c.local != nil && time.Since(c.local.FetchedAt) < blockhashTTL {
		bh := *c.local
		c.mu.Unlock()
		return bh, nil
	}
	c.mu.Unlock()

	if c.rdb != nil {
		if bh, ok := c.readRedis(ctx); ok && time.Since(bh.FetchedAt) < blockhashTTL {
			c.mu.Lock()
			c.local = &bh
			c.mu.Unlock()
			return bh, nil
		}
	}

	bh, err := c.source.GetLatestBlockhash(ctx)
	if err != nil {
		return Blockhash{}, fmt.Errorf("txbuilder: fetch blockhash: %w", err)
	}
	bh.FetchedAt = time.Now()

	c.mu.Lock()
	c.local = &bh
	c.mu.Unlock()

	if c.rdb != nil {
		c.writeRedis(ctx, bh)
	}
	return bh, nil
}

// Invalidate forces the next GetBlockhash to fetch fresh; BuildSwap calls
// it before its one retry when a built swap's last valid block height is
// below the cached blockhash's.
func (c *BlockhashCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.local = nil
	c.mu.Unlock()
	if c.rdb != nil {
		c.rdb.Del(ctx, blockhashCacheKey)
	}
}

func (c *BlockhashCache) readRedis(ctx context.Context) (Blockhash, bool) {
	data, err := c.rdb.Get(ctx, blockhashCacheKey).Bytes()
	if err != nil {
		return Blockhash{}, false
	}
	var bh Blockhash
	if err := json.Unmarshal(data, &bh); err != nil {
		return Blockhash{}, false
	}
	return bh, true
}

func (c *BlockhashCache) writeRedis(ctx context.Context, bh Blockhash) {
	data, err := json.Marshal(bh)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, blockhashCacheKey, data, blockhashTTL)
}
