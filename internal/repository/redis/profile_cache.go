package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chainintel/internal/adapters/redis"
	"chainintel/internal/domain/profile"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// Compile-time check
var _ profile.Repository = (*ProfileCache)(nil)

// ProfileCache is a read-through cache in front of the profile store.
// Writes go to the store first and then drop the cached copy.
type ProfileCache struct {
	client *redis.Client
	next   profile.Repository
	ttl    time.Duration
	log    *logger.Logger
}

// NewProfileCache wraps next with a cache whose entries live for ttl
func NewProfileCache(client *redis.Client, next profile.Repository, ttl time.Duration, log *logger.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProfileCache{
		client: client,
		next:   next,
		ttl:    ttl,
		log:    log.With("component", "profile_cache"),
	}
}

// GetProfile serves from cache, falling back to the store on a miss.
// Cache errors never fail the lookup.
func (c *ProfileCache) GetProfile(ctx context.Context, chainID int64, address string) (*profile.AddressProfile, error) {
	key := c.key(chainID, address)

	var cached profile.AddressProfile
	err := c.client.GetJSON(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		c.log.Warnw("Profile cache read failed", "key", key, "error", err)
	}

	p, err := c.next.GetProfile(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	if err := c.client.SetJSON(ctx, key, p, c.ttl); err != nil {
		c.log.Warnw("Profile cache write failed", "key", key, "error", err)
	}
	return p, nil
}

// Upsert writes through and invalidates
func (c *ProfileCache) Upsert(ctx context.Context, p *profile.AddressProfile) error {
	if err := c.next.Upsert(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ChainID, p.Address)
	return nil
}

// RecordActivity writes through and invalidates
func (c *ProfileCache) RecordActivity(ctx context.Context, chainID int64, address string, value decimal.Decimal, at time.Time) error {
	if err := c.next.RecordActivity(ctx, chainID, address, value, at); err != nil {
		return err
	}
	c.invalidate(ctx, chainID, address)
	return nil
}

func (c *ProfileCache) invalidate(ctx context.Context, chainID int64, address string) {
	if err := c.client.Delete(ctx, c.key(chainID, address)); err != nil {
		c.log.Warnw("Profile cache invalidation failed", "address", address, "error", err)
	}
}

func (c *ProfileCache) key(chainID int64, address string) string {
	return fmt.Sprintf("profile:%d:%s", chainID, strings.ToLower(address))
}
