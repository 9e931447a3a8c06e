package holder

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClassificationCache caches WalletClassification by wallet address so
// repeated orchestrator runs across mints that share holders avoid
// re-classifying the same wallet.
type ClassificationCache interface {
	Get(ctx context.Context, wallet string) (WalletClassification, bool, error)
	Set(ctx context.Context, c WalletClassification, ttl time.Duration) error
}

const classificationKeyPrefix = "streamcore:wallet_classification:"

// RedisClassificationCache backs ClassificationCache with Redis, the
// teacher-corpus pattern for shared, TTL'd cross-process caches.
type RedisClassificationCache struct {
	client *redis.Client
}

// NewRedisClassificationCache wraps an existing redis.Client.
func NewRedisClassificationCache(client *redis.Client) *RedisClassificationCache {
	return &RedisClassificationCache{client: client}
}

func (c *RedisClassificationCache) Get(ctx context.Context, wallet string) (WalletClassification, bool, error) {
	raw, err := c.client.Get(ctx, classificationKeyPrefix+wallet).Bytes()
	if err == redis.Nil {
		return WalletClassification{}, false, nil
	}
	if err != nil {
		return WalletClassification{}, false, err
	}
	var wc WalletClassification
	if err := json.Unmarshal(raw, &wc); err != nil {
		return WalletClassification{}, false, err
	}
	return wc, true, nil
}

func (c *RedisClassificationCache) Set(ctx context.Context, wc WalletClassification, ttl time.Duration) error {
	raw, err := json.Marshal(wc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, classificationKeyPrefix+wc.Wallet, raw, ttl).Err()
}

// InMemoryClassificationCache is the fallback when no Redis client is
// configured: a small mutex-guarded map, the same shape the subscription
// rate limiter uses for its ticket list.
type InMemoryClassificationCache struct {
	mu      sync.Mutex
	entries map[string]cachedEntry
}

type cachedEntry struct {
	classification WalletClassification
	expiresAt      time.Time
}

// NewInMemoryClassificationCache constructs an empty in-memory cache.
func NewInMemoryClassificationCache() *InMemoryClassificationCache {
	return &InMemoryClassificationCache{entries: make(map[string]cachedEntry)}
}

func (c *InMemoryClassificationCache) Get(ctx context.Context, wallet string) (WalletClassification, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[wallet]
	if !ok || time.Now().After(e.expiresAt) {
		return WalletClassification{}, false, nil
	}
	return e.classification, true, nil
}

func (c *InMemoryClassificationCache) Set(ctx context.Context, wc WalletClassification, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[wc.Wallet] = cachedEntry{classification: wc, expiresAt: time.Now().Add(ttl)}
	return nil
}
