package redis

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/testsupport"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

func TestProfileCache_ReadThroughAndInvalidate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testsupport.NewTestRedis(t)
	store := testsupport.NewProfileStore()
	cache := NewProfileCache(client, store, time.Minute, logger.Nop())
	ctx := context.Background()
	addr := testsupport.UniqueAddress()

	_, err := cache.GetProfile(ctx, 1, addr)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "misses are not cached")

	require.NoError(t, cache.RecordActivity(ctx, 1, addr, decimal.NewFromInt(3), time.Now()))

	p, err := cache.GetProfile(ctx, 1, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Stats.TxCount)

	// store outage is hidden while the entry is cached
	store.GetErr = errors.ErrUnavailable
	p, err = cache.GetProfile(ctx, 1, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Stats.TxCount)
	store.GetErr = nil

	require.NoError(t, cache.RecordActivity(ctx, 1, addr, decimal.NewFromInt(4), time.Now()))

	p, err = cache.GetProfile(ctx, 1, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Stats.TxCount)
	assert.True(t, decimal.NewFromInt(7).Equal(p.Stats.TotalVolume))
}
