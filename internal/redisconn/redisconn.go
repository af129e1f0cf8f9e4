// Package redisconn opens the shared Redis client used for rate limit
// counters and the event stream.
package redisconn

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pool sizes the connection pool for one process role.
type Pool struct {
	Size         int
	MinIdleConns int
}

// APIPool suits the ingestion server: short commands from many handlers.
var APIPool = Pool{Size: 20, MinIdleConns: 4}

// WorkerPool suits the stream consumer: a few long blocking reads.
var WorkerPool = Pool{Size: 4, MinIdleConns: 1}

// Open parses redisURL, applies pool and verifies connectivity.
func Open(ctx context.Context, redisURL string, pool Pool) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	applyPool(opt, pool)

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

func applyPool(opt *redis.Options, pool Pool) {
	if pool.Size > 0 {
		opt.PoolSize = pool.Size
	}
	opt.MinIdleConns = pool.MinIdleConns
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
}

// Checker adapts a client to the readiness probe.
type Checker struct {
	Client redis.UniversalClient
}

// Ping checks Redis connectivity.
func (c Checker) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
