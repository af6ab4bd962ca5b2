package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// LinkingChannel is the pub/sub channel carrying events of one session.
func LinkingChannel(sessionID string) string {
	return fmt.Sprintf("linking:%s", sessionID)
}

// CreateLimitKey is the sliding-window key for session creation by owner.
func CreateLimitKey(owner string) string {
	return fmt.Sprintf("ratelimit:create:%s", owner)
}
