package blacklist

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"nodesieve/internal/support"
)

const (
	redisBlacklistKey = "nodesieve:blacklist"
	redisOpTimeout    = 10 * time.Second
)

// RedisStore keeps the set in a sorted set whose score is the insertion
// rank, so a reload reproduces the exact eviction order. The member itself
// carries the timestamp alongside the fingerprint.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	client, err := support.DialRedis(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client, key: redisBlacklistKey}, nil
}

func (r *RedisStore) Name() string {
	return "redis"
}

func (r *RedisStore) Load(ctx context.Context) ([]Entry, error) {
	ctx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	members, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read blacklist set: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		entry, ok := parseEntryLine(strings.TrimSpace(member))
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *RedisStore) Save(ctx context.Context, entries []Entry) error {
	ctx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key)
	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		for i, entry := range entries {
			member := entry.Fingerprint + "\t" + strconv.FormatInt(entry.AddedAt.Unix(), 10)
			members = append(members, redis.Z{Score: float64(i), Member: member})
		}
		pipe.ZAdd(ctx, r.key, members...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewrite blacklist set: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
