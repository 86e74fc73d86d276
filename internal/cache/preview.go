package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrVerifyFailed means a value was written but could not be read back.
var ErrVerifyFailed = errors.New("cache write not visible on read-back")

// ResultCache stores serialized stage-1 results keyed by content hash and
// model version. The first writer for a key wins; later writers get the
// stored value back so every caller serves identical bytes.
type ResultCache struct {
	cache Cache
	ttl   time.Duration
}

func NewResultCache(c Cache, ttl time.Duration) *ResultCache {
	return &ResultCache{cache: c, ttl: ttl}
}

// Get returns the cached preview for (contentHash, modelVersion).
func (r *ResultCache) Get(ctx context.Context, contentHash, modelVersion string) ([]byte, bool, error) {
	val, found, err := r.cache.Get(ctx, PreviewKey(contentHash, modelVersion))
	if err != nil {
		return nil, false, fmt.Errorf("get preview: %w", err)
	}
	return val, found, nil
}

// PutIfAbsentOrEqual writes value under key unless a value is already there,
// and returns whichever value the key now holds.
func (r *ResultCache) PutIfAbsentOrEqual(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, error) {
	ok, err := r.cache.SetNX(ctx, key, value, ttl)
	if err != nil {
		return nil, fmt.Errorf("put preview: %w", err)
	}
	if ok {
		return value, nil
	}

	existing, found, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read existing preview: %w", err)
	}
	if !found {
		// Expired between SETNX and GET; try once more.
		ok, err := r.cache.SetNX(ctx, key, value, ttl)
		if err != nil {
			return nil, fmt.Errorf("put preview: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("put preview %s: %w", key, ErrVerifyFailed)
		}
		return value, nil
	}
	return existing, nil
}

// Store writes a preview and reads it back. The returned bytes are the
// canonical cached value.
func (r *ResultCache) Store(ctx context.Context, contentHash, modelVersion string, value []byte) ([]byte, error) {
	key := PreviewKey(contentHash, modelVersion)
	if _, err := r.PutIfAbsentOrEqual(ctx, key, value, r.ttl); err != nil {
		return nil, err
	}

	stored, found, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("verify preview: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("verify preview %s: %w", key, ErrVerifyFailed)
	}
	return stored, nil
}
