package memory

import (
	"context"
	"sync"
	"time"
)

type Client struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func New(limit int, window time.Duration) *Client {
	return &Client{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (c *Client) Close() error { return nil }

// Allow: скользящее окно по меткам времени.
func (c *Client) Allow(ctx context.Context, key string) (bool, error) {
	if c.limit <= 0 {
		return true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cut := now.Add(-c.window)
	kept := c.hits[key][:0]
	for _, t := range c.hits[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= c.limit {
		c.hits[key] = kept
		return false, nil
	}
	c.hits[key] = append(kept, now)
	return true, nil
}
