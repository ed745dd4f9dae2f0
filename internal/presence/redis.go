package presence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps one hash per room, user id -> socket count, shared by
// every relay instance. A crashed instance leaves its counts behind until
// the room's users reconnect and leave again.
type RedisTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisTracker(client *redis.Client, prefix string) *RedisTracker {
	return &RedisTracker{client: client, prefix: prefix}
}

func (t *RedisTracker) key(room uint) string {
	return t.prefix + strconv.FormatUint(uint64(room), 10)
}

func (t *RedisTracker) Add(ctx context.Context, room, userID uint) error {
	field := strconv.FormatUint(uint64(userID), 10)
	if err := t.client.HIncrBy(ctx, t.key(room), field, 1).Err(); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	return nil
}

func (t *RedisTracker) Remove(ctx context.Context, room, userID uint) error {
	key := t.key(room)
	field := strconv.FormatUint(uint64(userID), 10)

	n, err := t.client.HIncrBy(ctx, key, field, -1).Result()
	if err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}

	if n <= 0 {
		if err := t.client.HDel(ctx, key, field).Err(); err != nil {
			return fmt.Errorf("presence remove: %w", err)
		}
	}
	return nil
}

func (t *RedisTracker) List(ctx context.Context, room uint) ([]uint, error) {
	counts, err := t.client.HGetAll(ctx, t.key(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	return parseCounts(counts), nil
}

func parseCounts(counts map[string]string) []uint {
	ids := make([]uint, 0, len(counts))
	for field, value := range counts {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		id, err := strconv.ParseUint(field, 10, 32)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, uint(id))
	}
	sortIDs(ids)
	return ids
}
