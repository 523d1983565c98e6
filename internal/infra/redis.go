package infra

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// NewRedisClient configures a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, oops.Code("INFRA_CONFIG_MISSING").Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("INFRA_CONFIG_INVALID").Wrapf(err, "parse redis url")
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("INFRA_CONNECT_FAILED").With("backend", "redis").Wrapf(err, "ping redis")
	}

	return client, nil
}
