// Package redis provides a cross-process dedup claim for notifications.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "opsbrain"

// Claimer reserves keys with SET NX so only one sender wins a dedup window.
type Claimer struct {
	client   *goredis.Client
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Claimer)

func WithPassword(password string) Option {
	return func(c *Claimer) {
		c.password = password
	}
}

func WithDB(db int) Option {
	return func(c *Claimer) {
		c.db = db
	}
}

func WithPrefix(prefix string) Option {
	return func(c *Claimer) {
		if strings.TrimSpace(prefix) != "" {
			c.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(c *Claimer) {
		if client != nil {
			c.client = client
		}
	}
}

// New connects to addr and verifies the server answers PING.
func New(addr string, opts ...Option) (*Claimer, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	c := &Claimer{prefix: defaultPrefix, addr: addr}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = goredis.NewClient(&goredis.Options{
			Addr:     c.addr,
			Password: c.password,
			DB:       c.db,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return c, nil
}

// Claim returns true when this caller now owns key for ttl.
func (c *Claimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("claim ttl must be positive")
	}
	ok, err := c.client.SetNX(ctx, c.key(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return ok, nil
}

// Release drops a claim early, for example when the send itself failed.
func (c *Claimer) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

func (c *Claimer) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Claimer) key(k string) string {
	return c.prefix + ":notify:" + k
}
