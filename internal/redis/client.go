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

// TenantEventChannel is the pub/sub channel carrying bot lifecycle events
// (QR codes, connection status, level-ups) for one tenant.
func TenantEventChannel(tenantID string) string {
	return fmt.Sprintf("tenant-events:%s", tenantID)
}

// UsageKey identifies a tenant's live usage counter for one resource in
// one billing period (period formatted YYYY-MM).
func UsageKey(tenantID, resource, period string) string {
	return fmt.Sprintf("usage:%s:%s:%s", tenantID, resource, period)
}

// CompletionCacheKey identifies a cached AI completion by prompt hash.
func CompletionCacheKey(promptHash string) string {
	return fmt.Sprintf("ai-completion:%s", promptHash)
}

// CommandCacheKey identifies a cached command result.
func CommandCacheKey(command, cacheKey string) string {
	return fmt.Sprintf("command-cache:%s:%s", command, cacheKey)
}
