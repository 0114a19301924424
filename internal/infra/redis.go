package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL and verifies connectivity. The result
// is a UniversalClient so stores accept a cluster client without changes.
func NewRedisClient(ctx context.Context, url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{opt.Addr},
		DB:         opt.DB,
		Username:   opt.Username,
		Password:   opt.Password,
		TLSConfig:  opt.TLSConfig,
		ClientName: opt.ClientName,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
