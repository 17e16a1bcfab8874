package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// RedisClient is the subset of *redis.Client used by the price cache
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedPriceProvider serves price series from Redis, falling back to the
// wrapped provider on a miss. Redis failures degrade to a miss.
type CachedPriceProvider struct {
	next    PriceProvider
	rdb     RedisClient
	ttl     time.Duration
	metrics *metrics.Recorder
	log     *logger.Logger
}

// Creates a new Redis-backed cache in front of next
func NewCachedPriceProvider(next PriceProvider, rdb RedisClient, ttl time.Duration, recorder *metrics.Recorder) *CachedPriceProvider {
	return &CachedPriceProvider{
		next:    next,
		rdb:     rdb,
		ttl:     ttl,
		metrics: recorder,
		log:     logger.GetLogger("store.cache"),
	}
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

func priceKey(ticker string, start, end time.Time) string {
	return fmt.Sprintf("prices:%s:%s:%s", strings.ToUpper(ticker),
		start.Format(time.DateOnly), end.Format(time.DateOnly))
}

func (c *CachedPriceProvider) GetPrices(ctx context.Context, ticker string, start, end time.Time) (*models.PriceSeries, error) {
	key := priceKey(ticker, start, end)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var series models.PriceSeries
		if jsonErr := json.Unmarshal(data, &series); jsonErr == nil {
			c.metrics.RecordCacheLookup(true)
			return &series, nil
		}
		c.log.Warnf("Discarding undecodable cache entry %s", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warnf("Redis get %s failed: %v", key, err)
	}
	c.metrics.RecordCacheLookup(false)

	series, err := c.next.GetPrices(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	if series.Len() == 0 {
		return series, nil
	}
	if payload, err := json.Marshal(series); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Warnf("Redis set %s failed: %v", key, err)
		}
	}
	return series, nil
}
