package startup

import (
	"context"
	"time"

	redisstorage "github.com/baatchit/internal/storage/redis"
)

// ConnectRedisWithRetry подключает лимитер событий к Redis (limit событий за window на пользователя).
func ConnectRedisWithRetry(redisURL string, limit int, window, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	var client *redisstorage.Client
	retry("redis connect", maxWait, logPrefix, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(ctx, redisURL, limit, window)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client
}
