package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/pkg/logger"
)

const (
	evaluationPrefix = "evaluation:"
	fingerprintKey   = "meta:evaluation_fingerprint"
)

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return NewClientFromRedis(client, ttl), nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(client *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Client{client: client, ttl: ttl}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetEvaluation(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}

	if err := c.client.Set(ctx, evaluationPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set evaluation cache: %w", err)
	}

	logger.Debug("Evaluation cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetEvaluation(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.client.Get(ctx, evaluationPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get evaluation cache: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal evaluation: %w", err)
	}

	return true, nil
}

// SyncFingerprint compares fp with the fingerprint stored by the previous
// deployment and drops every cached evaluation when they differ. Keys already
// carry the fingerprint, so this only reclaims memory held by stale entries.
func (c *Client) SyncFingerprint(ctx context.Context, fp string) (int, error) {
	stored, err := c.client.Get(ctx, fingerprintKey).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to read evaluation fingerprint: %w", err)
	}
	if stored == fp {
		return 0, nil
	}

	deleted := 0
	if stored != "" {
		if deleted, err = c.InvalidateEvaluations(ctx); err != nil {
			return deleted, err
		}
	}

	if err := c.client.Set(ctx, fingerprintKey, fp, 0).Err(); err != nil {
		return deleted, fmt.Errorf("failed to store evaluation fingerprint: %w", err)
	}
	return deleted, nil
}

// InvalidateEvaluations drops every cached evaluation.
func (c *Client) InvalidateEvaluations(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, evaluationPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Evaluation cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}
