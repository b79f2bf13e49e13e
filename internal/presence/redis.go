package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// connTTL bounds how long a handle can outlive a crashed gateway instance.
// Live connections refresh the key on every Connect; a wedged set self-heals
// after the TTL.
const connTTL = 24 * time.Hour

// RedisTracker keeps the handle sets in redis so every gateway instance
// sees the same presence picture.
type RedisTracker struct {
	rdb *redis.Client
}

func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{rdb: rdb}
}

var _ Tracker = (*RedisTracker)(nil)

func connsKey(userID int64) string {
	return fmt.Sprintf("presence:conns:%d", userID)
}

func (t *RedisTracker) Connect(ctx context.Context, userID int64) (string, bool, error) {
	handle := uuid.NewString()
	key := connsKey(userID)

	pipe := t.rdb.TxPipeline()
	pipe.SAdd(ctx, key, handle)
	card := pipe.SCard(ctx, key)
	pipe.Expire(ctx, key, connTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", false, fmt.Errorf("presence connect: %w", err)
	}

	return handle, card.Val() == 1, nil
}

func (t *RedisTracker) Disconnect(ctx context.Context, userID int64, handle string) (bool, error) {
	key := connsKey(userID)

	pipe := t.rdb.TxPipeline()
	removed := pipe.SRem(ctx, key, handle)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}

	return wentOffline(removed.Val(), card.Val()), nil
}

// wentOffline decides the offline edge: the handle must actually have been
// removed and nothing may remain. A stale handle (the key already expired via
// the TTL, or a double disconnect) leaves the set empty without removing
// anything and must not report another edge.
func wentOffline(removed, remaining int64) bool {
	return removed > 0 && remaining == 0
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := t.rdb.SCard(ctx, connsKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence is online: %w", err)
	}
	return n > 0, nil
}

func (t *RedisTracker) OnlineAmong(ctx context.Context, userIDs []int64) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := t.rdb.Pipeline()
	cards := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cards[i] = pipe.SCard(ctx, connsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence online among: %w", err)
	}

	var online []int64
	for i, c := range cards {
		if c.Val() > 0 {
			online = append(online, userIDs[i])
		}
	}
	return online, nil
}
