package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ws_rate:"

type Client struct {
	cli    *redis.Client
	limit  int64
	window time.Duration
}

// New подключается к Redis; limit событий за window на ключ.
func New(ctx context.Context, url string, limit int, window time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, limit: int64(limit), window: window}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Allow: фиксированное окно, INCR, на первом событии окна ставится EXPIRE.
func (c *Client) Allow(ctx context.Context, key string) (bool, error) {
	if c.limit <= 0 {
		return true, nil
	}
	k := keyPrefix + key
	pipe := c.cli.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, c.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= c.limit, nil
}
