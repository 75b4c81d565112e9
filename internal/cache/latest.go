// Package cache keeps the most recent sample in Redis so dashboards can load
// current values without scanning the history.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

const (
	LatestKey = "plantmon:sample:latest"
	// LatestTTL expires the value when sampling stops for a day.
	LatestTTL = 24 * time.Hour
)

var ErrNoSample = errors.New("no cached sample")

// Client is the subset of *redis.Client used here.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type LatestStore struct {
	rdb Client
}

func NewLatestStore(rdb Client) *LatestStore {
	return &LatestStore{rdb: rdb}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *LatestStore) Name() string { return "cache" }

func (c *LatestStore) Deliver(ctx context.Context, s types.Sample) error {
	return c.Put(ctx, s)
}

func (c *LatestStore) Put(ctx context.Context, s types.Sample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	if err := c.rdb.Set(ctx, LatestKey, b, LatestTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", LatestKey, err)
	}
	return nil
}

// Latest returns the cached sample or ErrNoSample.
func (c *LatestStore) Latest(ctx context.Context) (types.Sample, error) {
	b, err := c.rdb.Get(ctx, LatestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Sample{}, ErrNoSample
	}
	if err != nil {
		return types.Sample{}, fmt.Errorf("redis get %s: %w", LatestKey, err)
	}
	var s types.Sample
	if err := json.Unmarshal(b, &s); err != nil {
		return types.Sample{}, fmt.Errorf("decode cached sample: %w", err)
	}
	return s, nil
}
