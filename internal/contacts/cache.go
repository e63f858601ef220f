// Package contacts serves contact records to the scheduler, optionally
// through a Redis read-through cache.
package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"confcrm/internal/config"
	"confcrm/internal/domain"
	"confcrm/internal/observability"
)

type Source interface {
	GetContact(ctx context.Context, id string) (domain.Contact, error)
}

// Cached reads through Redis to Source. Redis trouble degrades to direct
// reads; it never fails a lookup on its own.
type Cached struct {
	Source Source
	Redis  redis.Cmdable
	TTL    time.Duration
	Prefix string
}

func NewCached(src Source, rdb redis.Cmdable, ttl time.Duration) *Cached {
	return &Cached{Source: src, Redis: rdb, TTL: ttl, Prefix: "crm:contact:"}
}

func (c *Cached) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	key := c.Prefix + id
	b, err := c.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out domain.Contact
		if jerr := json.Unmarshal(b, &out); jerr == nil {
			observability.ContactCache.WithLabelValues("hit").Inc()
			return out, nil
		}
		observability.ContactCache.WithLabelValues("corrupt").Inc()
	case errors.Is(err, redis.Nil):
		observability.ContactCache.WithLabelValues("miss").Inc()
	default:
		observability.ContactCache.WithLabelValues("error").Inc()
		slog.Warn("contact cache read failed", "contact_id", id, "err", err)
	}

	out, err := c.Source.GetContact(ctx, id)
	if err != nil {
		return domain.Contact{}, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := c.Redis.Set(ctx, key, b, c.TTL).Err(); err != nil {
			slog.Warn("contact cache write failed", "contact_id", id, "err", err)
		}
	}
	return out, nil
}

// Invalidate drops a cached contact after it changes.
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.Redis.Del(ctx, c.Prefix+id).Err()
}

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

// Lookup wraps src with the Redis cache when rdb is set.
func Lookup(src Source, rdb *redis.Client, ttl time.Duration) Source {
	if rdb == nil {
		return src
	}
	return NewCached(src, rdb, ttl)
}
