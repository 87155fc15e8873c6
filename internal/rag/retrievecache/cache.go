// Package retrievecache provides an optional Redis-backed cache in front of
// the Hierarchical Retrieval Engine (C9), keyed by collection/query/options
// so repeated questions against an unchanged collection skip the child
// search, parent fetch, and sibling expansion stages entirely.
package retrievecache

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"alexandria/internal/config"
	"alexandria/internal/rag/retrieve"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis-backed cache for retrieve.Result. A nil *Cache is valid
// and behaves as fully disabled, matching Service's pattern of optional
// collaborators that no-op when absent.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New builds a Redis-backed retrieval cache when cfg.Enabled. Returns a nil
// *Cache, nil error when disabled so callers can pass the result straight
// into WithRetrieveCache without a branch.
func New(cfg config.RedisConfig, ttl time.Duration) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("retrieve cache: ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Key derives a cache key from the collection, query text, and retrieval
// options; any option change (limit, mode, filters) is a cache miss.
func Key(collection, query string, opts retrieve.Options) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%#v", collection, query, opts)
	return "rag:retrieve:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached result for key, if present and still valid.
func (c *Cache) Get(ctx context.Context, key string) (retrieve.Result, bool) {
	if c == nil || c.client == nil {
		return retrieve.Result{}, false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return retrieve.Result{}, false
	}
	var res retrieve.Result
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return retrieve.Result{}, false
	}
	return res, true
}

// Set caches res under key until the configured TTL elapses.
func (c *Cache) Set(ctx context.Context, key string, res retrieve.Result) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
