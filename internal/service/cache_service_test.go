package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

type memoryCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	gets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestCacheServiceRoundTripAndMetrics(t *testing.T) {
	metrics := NewMetricsService()
	cache := NewCacheService(newMemoryCache(), metrics, time.Minute, nil, true)
	ctx := context.Background()

	var out []string
	hit, err := cache.Get(ctx, CacheKeyRoutes, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, CacheKeyRoutes, []string{"north loop"}, 0))
	hit, err = cache.Get(ctx, CacheKeyRoutes, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"north loop"}, out)

	require.NoError(t, cache.Invalidate(ctx, CacheKeyRoutes))
	hit, _ = cache.Get(ctx, CacheKeyRoutes, &out)
	assert.False(t, hit)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(2), snap.CacheMisses)
}

func TestCacheServiceDisabledAndFailing(t *testing.T) {
	repo := newMemoryCache()
	disabled := NewCacheService(repo, nil, 0, nil, false)
	hit, err := disabled.Get(context.Background(), "k", &struct{}{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Zero(t, repo.gets)

	repo.getErr = errors.New("connection refused")
	enabled := NewCacheService(repo, nil, 0, nil, true)
	hit, err = enabled.Get(context.Background(), "k", &struct{}{})
	assert.Error(t, err)
	assert.False(t, hit)
}
