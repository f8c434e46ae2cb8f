// Package cache is the shared-cache gateway over Redis. It backs the rate
// limiter's atomic script, the LSH index, the token blocklist and the
// workflow queue. Every caller specifies its own degraded behaviour when
// the cache is unavailable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key does not exist.
var ErrMiss = errors.New("cache: key not found")

// ErrUnavailable wraps connectivity failures so callers can fail open
// without matching driver error strings.
var ErrUnavailable = errors.New("cache: unavailable")

// Client wraps go-redis v9 with the operations the service needs.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis and verifies connectivity.
func New(url, password string, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.PoolSize = 20

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping (%s): %w", opts.Addr, err)
	}

	logger.Info("redis connected", "addr", opts.Addr)
	return &Client{rdb: rdb, logger: logger}, nil
}

// Close shuts down the underlying client.
func (c *Client) Close() error { return c.rdb.Close() }

// Ping probes connectivity; used by the status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return wrap(c.rdb.Ping(ctx).Err())
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return wrap(c.rdb.Set(ctx, key, value, ttl).Err())
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	return val, wrap(err)
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return wrap(c.rdb.Del(ctx, keys...).Err())
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, wrap(err)
}

func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return wrap(c.rdb.SAdd(ctx, key, ifaces...).Err())
}

func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return wrap(c.rdb.SRem(ctx, key, ifaces...).Err())
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	out, err := c.rdb.SMembers(ctx, key).Result()
	return out, wrap(err)
}

// LPush / BRPop back the workflow task queue.
func (c *Client) LPush(ctx context.Context, key string, value []byte) error {
	return wrap(c.rdb.LPush(ctx, key, value).Err())
}

func (c *Client) BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	res, err := c.rdb.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, wrap(err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("cache: unexpected brpop reply length %d", len(res))
	}
	return []byte(res[1]), nil
}

// Pipeline runs fn against a pipeline and executes it in one round trip.
func (c *Client) Pipeline(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := c.rdb.Pipelined(ctx, fn)
	return wrap(err)
}

// Script is a server-side atomic script addressed by digest. EvalSha avoids
// shipping the body on every call; on NOSCRIPT the body is reloaded
// transparently.
type Script struct {
	script *redis.Script
}

// NewScript precomputes the digest for src.
func NewScript(src string) *Script {
	return &Script{script: redis.NewScript(src)}
}

// Run evaluates the script atomically. go-redis retries with EVAL when the
// server replies NOSCRIPT.
func (c *Client) Run(ctx context.Context, s *Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := s.script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, wrap(err)
	}
	return res, nil
}

// wrap classifies transport-level failures as ErrUnavailable so callers can
// errors.Is on it; Redis protocol errors pass through untouched.
func wrap(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
