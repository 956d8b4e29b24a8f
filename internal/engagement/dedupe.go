package engagement

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper is the fast-path duplicate filter on provider message ids. The
// store fingerprint remains the authoritative guard.
type Deduper interface {
	// Claim returns false when messageID was already claimed.
	Claim(ctx context.Context, messageID string) (bool, error)
	// Release forgets messageID so a provider retry is processed again.
	Release(ctx context.Context, messageID string) error
}

// NoopDeduper claims everything.
type NoopDeduper struct{}

func (NoopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }
func (NoopDeduper) Release(context.Context, string) error       { return nil }

// RedisDeduper remembers message ids with SETNX for ttl.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(messageID string) string {
	return "sitevisit:webhook:msg:" + messageID
}

func (d *RedisDeduper) Claim(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	return d.client.SetNX(ctx, dedupeKey(messageID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	return d.client.Del(ctx, dedupeKey(messageID)).Err()
}
