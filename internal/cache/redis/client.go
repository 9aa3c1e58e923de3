package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/pkg/logger"
)

// Insights is the cached model answer for one prompt.
type Insights struct {
	Text             string    `json:"text"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	return NewClientWithAddr(fmt.Sprintf("%s:%d", host, port), password, db, ttl)
}

func NewClientWithAddr(addr, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return connect(client, ttl)
}

// connect pings client and closes it when the server is unreachable.
func connect(client *redis.Client, ttl time.Duration) (*Client, error) {
	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", client.Options().Addr), zap.Duration("ttl", ttl))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func insightsKey(hash string) string {
	return fmt.Sprintf("insights:%s", hash)
}

func (c *Client) SetInsights(ctx context.Context, promptHash string, entry *Insights) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}

	err = c.client.Set(ctx, insightsKey(promptHash), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set insights cache: %w", err)
	}

	logger.Debug("Insights cached", zap.String("prompt_hash", promptHash), zap.Duration("ttl", c.ttl))
	return nil
}

// GetInsights returns nil without error on a miss.
func (c *Client) GetInsights(ctx context.Context, promptHash string) (*Insights, error) {
	data, err := c.client.Get(ctx, insightsKey(promptHash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get insights cache: %w", err)
	}

	var entry Insights
	err = json.Unmarshal(data, &entry)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal insights: %w", err)
	}

	logger.Debug("Insights cache hit", zap.String("prompt_hash", promptHash))
	return &entry, nil
}

func (c *Client) InvalidateInsights(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, "insights:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Insights cache invalidated", zap.Int("keys", deleted))
	return deleted, nil
}

func (c *Client) IncrementMetric(ctx context.Context, metricName string) error {
	return c.client.Incr(ctx, fmt.Sprintf("metric:%s", metricName)).Err()
}

func (c *Client) GetMetric(ctx context.Context, metricName string) (int64, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf("metric:%s", metricName)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
