package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New creates a new Redis client and verifies connectivity.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Probe adapts a Redis client to a readiness check.
type Probe struct {
	Client redis.UniversalClient
}

// Ping implements the readiness contract.
func (p Probe) Ping(ctx context.Context) error {
	if p.Client == nil {
		return fmt.Errorf("platform/cache: no client")
	}
	return p.Client.Ping(ctx).Err()
}
