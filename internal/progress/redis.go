package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "pg-dedump:progress:"
	stateTTL       = 24 * time.Hour

	// Channel carries every event published by any run.
	Channel = "pg-dedump:progress"
)

// RedisReporter stores the latest event of a run under a per-run key and
// publishes every event on Channel.
type RedisReporter struct {
	client *redis.Client
}

// NewRedisReporter connects to the Redis server at kvURL.
func NewRedisReporter(kvURL string) (*RedisReporter, error) {
	opts, err := redis.ParseURL(kvURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse KV URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to KV: %w", err)
	}

	return &RedisReporter{client: client}, nil
}

// StateKey is the key holding the latest event of a run.
func StateKey(runID string) string {
	return stateKeyPrefix + runID
}

func (r *RedisReporter) Report(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	if err := r.client.Set(ctx, StateKey(event.RunID), string(data), stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	if err := r.client.Publish(ctx, Channel, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}

	return nil
}

func (r *RedisReporter) Close() error {
	return r.client.Close()
}
