package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers provider message ids in Redis so several api-server
// instances share one dedup window.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduper{client: client, ttl: ttl}
}

// FirstSeen records id and reports whether this call was the first to see it.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "dedup:inbound:"+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}
