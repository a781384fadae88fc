package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tale-server/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Probed limits are model properties, not session state; a day of caching
// just avoids re-probing on every restart.
const contextLimitTTL = 24 * time.Hour

var _ ContextLimitCache = (*redisLimitCache)(nil)

type redisLimitCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLimitCache creates a Redis-backed ContextLimitCache.
func NewRedisLimitCache(client *redis.Client, logger *zap.Logger) ContextLimitCache {
	return &redisLimitCache{
		client: client,
		logger: logger.Named("LimitCache"),
	}
}

func limitKey(model string) string {
	return fmt.Sprintf("context_limit:%s", model)
}

func (c *redisLimitCache) Get(ctx context.Context, model string) (int, error) {
	val, err := c.client.Get(ctx, limitKey(model)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, models.ErrNotFound
		}
		c.logger.Warn("Error reading context limit from cache", zap.String("model", model), zap.Error(err))
		return 0, fmt.Errorf("failed to read context limit for %s: %w", model, err)
	}

	limit, err := strconv.Atoi(val)
	if err != nil {
		return 0, models.ErrNotFound
	}
	return limit, nil
}

func (c *redisLimitCache) Set(ctx context.Context, model string, limit int) error {
	if err := c.client.Set(ctx, limitKey(model), strconv.Itoa(limit), contextLimitTTL).Err(); err != nil {
		c.logger.Warn("Error caching context limit", zap.String("model", model), zap.Error(err))
		return fmt.Errorf("failed to cache context limit for %s: %w", model, err)
	}
	return nil
}
