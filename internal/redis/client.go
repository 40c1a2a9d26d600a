package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// Topic names a realtime fan-out channel, e.g. Topic("session", id).
func Topic(kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// EventChannel is the pub/sub channel carrying events for a topic.
func EventChannel(topic string) string {
	return fmt.Sprintf("events:%s", topic)
}

// SessionLeaseKey holds the id of the instance owning a session's live connection.
func SessionLeaseKey(sessionID string) string {
	return fmt.Sprintf("lease:session:%s", sessionID)
}
