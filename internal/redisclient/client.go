package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/touch_session.lua
var touchSessionScript string

// Session keys and their index share the {admin} hash tag so the touch
// script and revocation stay within one cluster slot.
const (
	sessionKeyPrefix = "{admin}:session:"
	sessionIndexKey  = "{admin}:sessions"
)

type Client struct {
	rdb         *redis.Client
	touchScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		touchScript: redis.NewScript(touchSessionScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateSession stores an admin session token with TTL
func (c *Client) CreateSession(ctx context.Context, token string, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+token, "admin", ttl)
	pipe.SAdd(ctx, sessionIndexKey, token)

	_, err := pipe.Exec(ctx)
	return err
}

// TouchSession atomically checks a session and extends its TTL.
// Returns false if the session has expired or never existed.
func (c *Client) TouchSession(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	result, err := c.touchScript.Run(ctx, c.rdb,
		[]string{sessionKeyPrefix + token, sessionIndexKey},
		ttl.Milliseconds(), token).Result()
	if err != nil {
		return false, fmt.Errorf("touch session script failed: %w", err)
	}

	alive, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return alive == 1, nil
}

// DeleteSession removes a single session
func (c *Client) DeleteSession(ctx context.Context, token string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+token)
	pipe.SRem(ctx, sessionIndexKey, token)

	_, err := pipe.Exec(ctx)
	return err
}

// RevokeAllSessions removes every indexed admin session. Keys are named by
// the client rather than built inside a script, as Redis Cluster requires.
// Sessions created concurrently stay indexed and stay valid.
func (c *Client) RevokeAllSessions(ctx context.Context) error {
	tokens, err := c.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	keys := make([]string, len(tokens))
	members := make([]interface{}, len(tokens))
	for i, token := range tokens {
		keys[i] = sessionKeyPrefix + token
		members[i] = token
	}

	pipe := c.rdb.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	pipe.SRem(ctx, sessionIndexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}
