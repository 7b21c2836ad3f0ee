package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/defimarkets/vault-backend/internal/tasks"
)

const tagKeyPrefix = "tag:"

// Invalidator deletes cached entries by tag. Each tag is a redis set holding
// the cache keys written under it; invalidating a tag deletes the member keys
// and the set itself. A nil client turns every call into a no-op so callers
// need no redis in local runs.
type Invalidator struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewInvalidator(client redis.UniversalClient, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{client: client, logger: logger}
}

func (inv *Invalidator) InvalidateTags(ctx context.Context, tags ...string) error {
	if inv.client == nil || len(tags) == 0 {
		return nil
	}

	for _, tag := range tags {
		setKey := tagKeyPrefix + tag
		members, err := inv.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return fmt.Errorf("read tag set %s: %w", setKey, err)
		}

		toDelete := append(members, setKey)
		if err := inv.client.Del(ctx, toDelete...).Err(); err != nil {
			return fmt.Errorf("delete keys for tag %s: %w", setKey, err)
		}
		inv.logger.Debug("cache tag invalidated", "tag", tag, "keys", len(members))
	}
	return nil
}

// EnqueueInvalidation schedules the invalidation on the background queue,
// fire-and-forget.
func (inv *Invalidator) EnqueueInvalidation(queue *tasks.Queue, tags ...string) {
	if inv.client == nil || len(tags) == 0 || queue == nil {
		return
	}
	queue.Submit("cache-invalidate", func(ctx context.Context) error {
		return inv.InvalidateTags(ctx, tags...)
	})
}
