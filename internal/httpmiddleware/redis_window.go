package httpmiddleware

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window limiter shared by every instance that talks to the
// same Redis. When Redis is unreachable requests are let through.
type RedisWindow struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow allows limit requests per key per window.
func NewRedisWindow(client *redis.Client, prefix string, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// GinMiddleware enforces the limit per key.
func (w *RedisWindow) GinMiddleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := w.Allow(c.Request.Context(), key(c))
		if err != nil {
			log.Printf("rate limit %s: %v", w.prefix, err)
		}
		if !ok {
			reject(c)
			return
		}
		c.Next()
	}
}

// Allow counts one request for key and reports whether it is within the limit.
func (w *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	if w.limit <= 0 {
		return true, nil
	}
	slot := w.now().UnixNano() / int64(w.window)
	k := fmt.Sprintf("%s:%s:%d", w.prefix, key, slot)

	pipe := w.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= w.limit, nil
}
