// Package featurecache stores encoded item-by-id responses, in Redis or in
// process.
package featurecache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/postgis-collections/internal/cache/keys"
	"github.com/mohammed-shakir/postgis-collections/internal/cache/redisstore"
	"github.com/mohammed-shakir/postgis-collections/internal/core/observability"
)

type Cache interface {
	Get(ctx context.Context, collection, id string) ([]byte, bool, error)
	Put(ctx context.Context, collection, id string, body []byte) error
	// Invalidate drops ids of collection, or every cached feature of the
	// collection when ids is empty.
	Invalidate(ctx context.Context, collection string, ids []string) error
	Backend() string
}

type redisCache struct {
	cli *redisstore.Client
	ttl time.Duration
}

func NewRedis(cli *redisstore.Client, ttl time.Duration) Cache {
	return &redisCache{cli: cli, ttl: ttl}
}

func (c *redisCache) Backend() string { return "redis" }

func (c *redisCache) Get(ctx context.Context, collection, id string) ([]byte, bool, error) {
	k := keys.FeatureKey(collection, id)
	raw, err := c.cli.MGet(ctx, []string{k})
	if err != nil {
		return nil, false, fmt.Errorf("featurecache get %q: %w", k, err)
	}
	b, ok := raw[k]
	record(c.Backend(), ok)
	return b, ok, nil
}

func (c *redisCache) Put(ctx context.Context, collection, id string, body []byte) error {
	k := keys.FeatureKey(collection, id)
	if err := c.cli.Set(ctx, k, body, c.ttl); err != nil {
		return fmt.Errorf("featurecache put: %w", err)
	}
	return nil
}

func (c *redisCache) Invalidate(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		if _, err := c.cli.DelPrefix(ctx, keys.CollectionPrefix(collection)); err != nil {
			return fmt.Errorf("featurecache invalidate %s: %w", collection, err)
		}
		return nil
	}
	ks := make([]string, len(ids))
	for i, id := range ids {
		ks[i] = keys.FeatureKey(collection, id)
	}
	if err := c.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("featurecache invalidate %s: %w", collection, err)
	}
	return nil
}

type lruCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRU keeps at most size entries, each for ttl.
func NewLRU(size int, ttl time.Duration) Cache {
	if size <= 0 {
		size = 4096
	}
	return &lruCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *lruCache) Backend() string { return "lru" }

func (c *lruCache) Get(_ context.Context, collection, id string) ([]byte, bool, error) {
	start := time.Now()
	b, ok := c.lru.Get(keys.FeatureKey(collection, id))
	observability.ObserveCacheOp("get", "ok", time.Since(start).Seconds())
	record(c.Backend(), ok)
	return b, ok, nil
}

func (c *lruCache) Put(_ context.Context, collection, id string, body []byte) error {
	c.lru.Add(keys.FeatureKey(collection, id), body)
	return nil
}

func (c *lruCache) Invalidate(_ context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		prefix := keys.CollectionPrefix(collection)
		for _, k := range c.lru.Keys() {
			if strings.HasPrefix(k, prefix) {
				c.lru.Remove(k)
			}
		}
		return nil
	}
	for _, id := range ids {
		c.lru.Remove(keys.FeatureKey(collection, id))
	}
	return nil
}

func record(backend string, hit bool) {
	if hit {
		observability.IncFeatureCacheHit(backend)
		return
	}
	observability.IncFeatureCacheMiss(backend)
}
