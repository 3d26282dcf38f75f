package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/comphours-api/internal/models"
)

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string, dest interface{}) error {
	return errors.New("redis down")
}

func (failingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("redis down")
}

func (failingCache) Delete(ctx context.Context, keys ...string) error {
	return errors.New("redis down")
}

func TestCacheServiceHitMissMetrics(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewCacheService(newMemCache(), metrics, 0, nil, true)

	var got models.Balance
	assert.False(t, svc.Get(context.Background(), "k", &got))
	svc.Set(context.Background(), "k", &models.Balance{UserID: worker, AvailableHours: 3}, 0)
	assert.True(t, svc.Get(context.Background(), "k", &got))
	assert.Equal(t, 3.0, got.AvailableHours)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheMisses))
}

func TestCacheServiceDegradesToMiss(t *testing.T) {
	svc := NewCacheService(failingCache{}, nil, time.Second, nil, true)
	var got models.Balance
	assert.False(t, svc.Get(context.Background(), "k", &got))
	svc.Set(context.Background(), "k", &got, 0)
	svc.Invalidate(context.Background(), "k")

	disabled := NewCacheService(newMemCache(), nil, 0, nil, false)
	assert.False(t, disabled.Enabled())

	var nilSvc *CacheService
	assert.False(t, nilSvc.Get(context.Background(), "k", &got))
}
