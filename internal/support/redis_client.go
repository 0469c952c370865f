package support

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DialRedis parses a Redis URL, connects, and verifies the connection with a
// ping. Callers own the returned client and close it when done; the pipeline
// deliberately keeps no process-wide client state.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %q: %w", redisURL, err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
