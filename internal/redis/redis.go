package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// ErrCacheMiss is what Get returns when the key does not exist.
var ErrCacheMiss = redis.Nil

var errNotConnected = errors.New("redis client not initialized")

const dialTimeout = 3 * time.Second

// Client wraps go-redis with the app's connection settings. A nil Client
// is usable; every method fails soft so caching stays optional.
type Client struct {
	rdb *redis.Client
}

// NewClient dials redis from the app config and verifies the connection
// with a ping before handing the client out.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host, port := cfg.Redis.Host, cfg.Redis.Port
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 6379
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) ready() error {
	if c == nil || c.rdb == nil {
		return errNotConnected
	}
	return nil
}

// Set stores a value under key for ttl.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get returns the string stored under key, or ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.rdb.Get(ctx, key).Result()
}

// Del removes the given keys. Deleting nothing is not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Publish sends payload on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription on channel. It returns nil when the
// client is not connected; callers own the returned PubSub.
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if c.ready() != nil {
		return nil
	}
	return c.rdb.Subscribe(ctx, channel)
}

// Close shuts the underlying connection down.
func (c *Client) Close() error {
	if c.ready() != nil {
		return nil
	}
	return c.rdb.Close()
}
