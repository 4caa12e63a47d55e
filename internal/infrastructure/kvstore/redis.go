package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisMedium keeps all items of one namespace in a single Redis hash
type RedisMedium struct {
	rdb      *redis.Client
	hash     string
	capacity int64
}

// NewRedisMedium connects to Redis and verifies connectivity.
// A capacity <= 0 means unlimited.
func NewRedisMedium(url, namespace string, capacity int64) (*RedisMedium, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisMedium{rdb: rdb, hash: namespace + ":kv", capacity: capacity}, nil
}

// GetItem retrieves a value. A missing field reports exists=false.
func (r *RedisMedium) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetItem stores a value. The capacity check and the write run in one optimistic transaction.
func (r *RedisMedium) SetItem(ctx context.Context, key, value string) error {
	if r.capacity <= 0 {
		return r.rdb.HSet(ctx, r.hash, key, value).Err()
	}

	txf := func(tx *redis.Tx) error {
		items, err := tx.HGetAll(ctx, r.hash).Result()
		if err != nil {
			return err
		}
		var used int64
		for k, v := range items {
			if k != key {
				used += EstimateSize(k, v)
			}
		}
		if next := used + EstimateSize(key, value); next > r.capacity {
			return fmt.Errorf("%w: write of %q needs %d of %d bytes", domain.ErrQuotaExceeded, key, next, r.capacity)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.hash, key, value)
			return nil
		})
		return err
	}

	return r.rdb.Watch(ctx, txf, r.hash)
}

// RemoveItem deletes a key
func (r *RedisMedium) RemoveItem(ctx context.Context, key string) error {
	return r.rdb.HDel(ctx, r.hash, key).Err()
}

// Keys returns every key in lexical order
func (r *RedisMedium) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.rdb.HKeys(ctx, r.hash).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the connection pool
func (r *RedisMedium) Close() error {
	return r.rdb.Close()
}
