/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps resolver responses and remote device lists in
// Redis. Everything stored here is a performance hint: a miss or a dead
// Redis costs an upstream round trip, never correctness, so every
// method degrades to a no-op when the backend is gone.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Every key lives under one prefix so FlushAll can clear the namespace
// without touching other tenants of a shared Redis.
const (
	keyPrefix   = "bifrost:cache:"
	keyResolved = keyPrefix + "resolved:" // + track ref
	keyDevices  = keyPrefix + "devices"
)

const (
	// Resolved URLs are signed upstream; an hour stays inside the
	// shortest validity window seen in practice.
	resolvedTrackTTL = time.Hour
	// Device lists churn whenever a listener opens or closes an app.
	deviceListTTL = 30 * time.Second

	dialTimeout = 5 * time.Second
	scanBatch   = 100
)

// Config holds the Redis connection settings.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DisableOnError trips the cache off after the first Redis failure
	// instead of retrying on every call.
	DisableOnError bool
}

// DefaultConfig returns settings for a local Redis with the breaker on.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		DisableOnError: true,
	}
}

// Cache is a Redis-backed store with a trip breaker. The zero value is
// not usable; construct one with New or Disabled.
type Cache struct {
	client   *redis.Client
	logger   zerolog.Logger
	trip     bool
	disabled atomic.Bool
}

// New connects to Redis and returns a live cache. A failed ping is not
// an error: playback must keep working with Redis down, so New logs the
// problem and hands back a disabled cache instead.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	c := &Cache{
		logger: logger.With().Str("component", "cache").Logger(),
		trip:   cfg.DisableOnError,
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, caching disabled")
		c.disabled.Store(true)
		_ = client.Close()
		return c, nil
	}

	c.client = client
	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("redis cache connected")
	return c, nil
}

// Disabled returns a cache that never stores anything. Callers that
// treat caching as optional hold a *Cache unconditionally and keep a
// single code path.
func Disabled(logger zerolog.Logger) *Cache {
	c := &Cache{logger: logger.With().Str("component", "cache").Logger()}
	c.disabled.Store(true)
	return c
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether calls currently reach Redis. The health
// endpoint surfaces this so a tripped breaker is visible from outside.
func (c *Cache) IsAvailable() bool {
	return c.client != nil && !c.disabled.Load()
}

// fail records a backend error and, when configured, trips the breaker
// so later calls stop hammering a dead Redis.
func (c *Cache) fail(op string, err error) error {
	c.logger.Debug().Err(err).Str("op", op).Msg("cache operation failed")
	if c.trip && c.disabled.CompareAndSwap(false, true) {
		c.logger.Warn().Str("op", op).Msg("cache disabled after redis error")
	}
	return err
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.fail("get", err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A corrupt entry reads as a miss; the next set overwrites it.
		c.logger.Debug().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return c.fail("set", err)
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return c.fail("del", err)
	}
	return nil
}

// CachedResolvedTrack is a resolver response kept across replays.
type CachedResolvedTrack struct {
	TrackRef   string `json:"track_ref"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	ArtworkURL string `json:"artwork_url"`
	DurationMs int64  `json:"duration_ms"`
}

// GetResolvedTrack returns the stored resolution for a track reference.
func (c *Cache) GetResolvedTrack(ctx context.Context, trackRef string) (*CachedResolvedTrack, bool) {
	var entry CachedResolvedTrack
	if !c.get(ctx, keyResolved+trackRef, &entry) {
		return nil, false
	}
	c.logger.Debug().Str("track_ref", trackRef).Msg("resolved track cache hit")
	return &entry, true
}

// SetResolvedTrack stores a resolver response.
func (c *Cache) SetResolvedTrack(ctx context.Context, resolved *CachedResolvedTrack) error {
	return c.set(ctx, keyResolved+resolved.TrackRef, resolved, resolvedTrackTTL)
}

// InvalidateResolvedTrack drops a stored resolution. The proxy source
// calls this when a resolved URL fails to play, so the retry resolves
// fresh instead of reusing an expired link.
func (c *Cache) InvalidateResolvedTrack(ctx context.Context, trackRef string) error {
	c.logger.Debug().Str("track_ref", trackRef).Msg("invalidating resolved track")
	return c.delete(ctx, keyResolved+trackRef)
}

// CachedDevice is one remote playback target.
type CachedDevice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
}

// GetDeviceList returns the remote device list while it is fresh.
func (c *Cache) GetDeviceList(ctx context.Context) ([]CachedDevice, bool) {
	var devices []CachedDevice
	if !c.get(ctx, keyDevices, &devices) {
		return nil, false
	}
	c.logger.Debug().Int("count", len(devices)).Msg("device list cache hit")
	return devices, true
}

// SetDeviceList stores the remote device list.
func (c *Cache) SetDeviceList(ctx context.Context, devices []CachedDevice) error {
	return c.set(ctx, keyDevices, devices, deviceListTTL)
}

// InvalidateDeviceList drops the device list, typically after a
// transfer moves the active flag.
func (c *Cache) InvalidateDeviceList(ctx context.Context) error {
	return c.delete(ctx, keyDevices)
}

// FlushAll clears every key under the cache prefix. SCAN keeps it
// polite on a shared Redis where KEYS would block.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Info().Msg("flushing cache")
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return c.fail("scan", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return c.fail("del", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
