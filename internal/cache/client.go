package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// New создаёт Redis-клиент для best-effort кэширования.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
