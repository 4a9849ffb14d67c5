package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vdental/chairbook/libs/config"
	"github.com/vdental/chairbook/libs/httpx"
)

// newLimiter uses Redis when REDIS_ADDR is set so every replica shares one
// window, and an in-process limiter otherwise. The returned check is nil
// without Redis.
func newLimiter(logger *slog.Logger) (httpx.Limiter, func(context.Context) error) {
	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		panic(err)
	}
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewMemoryLimiter(limit, time.Minute), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
	logger.Info("rate limiting through redis", "addr", addr, "per_minute", limit)
	check := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	return httpx.NewRedisLimiter(rdb, limit, time.Minute, "booking:rl"), check
}
