// Package redis provides the cancellation broadcast surface. The governor
// publishes cancelled job ids here as a push signal; the job store remains
// the source of truth the pipeline polls between stages.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cancelChannel = "jobs:cancelled"

// Client wraps Redis operations for reportpipe.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

type cancelMessage struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// JobCancelled publishes a cancellation signal. Implements budget.Notifier.
// Failures are logged, not returned: the store already holds the cancelled
// status and subscribers only lose the push hint.
func (c *Client) JobCancelled(ctx context.Context, jobID, reason string) {
	payload, err := json.Marshal(cancelMessage{JobID: jobID, Reason: reason})
	if err != nil {
		slog.Warn("failed to encode cancellation message", "job", jobID, "error", err)
		return
	}
	if err := c.rdb.Publish(ctx, cancelChannel, payload).Err(); err != nil {
		slog.Warn("failed to publish job cancellation", "job", jobID, "error", err)
	}
}

// SubscribeCancellations delivers cancelled job ids until ctx is done.
func (c *Client) SubscribeCancellations(ctx context.Context) <-chan string {
	sub := c.rdb.Subscribe(ctx, cancelChannel)
	out := make(chan string)

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var m cancelMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					slog.Warn("failed to decode cancellation message", "error", err)
					continue
				}
				select {
				case out <- m.JobID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
