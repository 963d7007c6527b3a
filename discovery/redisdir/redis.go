// Package redisdir is a discovery.Directory backed by Redis keys with expiry,
// for setups where the MCP front-end and the editor run on different hosts.
package redisdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

var _ discovery.Directory = (*Directory)(nil)

const defaultKeyPrefix = "unity-mcp:editors:"

// Config for a Redis-backed Directory.
type Config struct {
	Client    *redis.Client
	KeyPrefix string
}

// EnvConfig is loaded by NewFromEnv.
type EnvConfig struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: UNITY_MCP_DIRECTORY_PREFIX
	KeyPrefix string `env:"UNITY_MCP_DIRECTORY_PREFIX,default=unity-mcp:editors:"`
}

type Directory struct {
	client    *redis.Client
	keyPrefix string
}

// New wraps an existing client.
func New(cfg Config) *Directory {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Directory{client: cfg.Client, keyPrefix: prefix}
}

// NewFromEnv dials Redis using EnvConfig and verifies the connection.
func NewFromEnv(ctx context.Context) (*Directory, error) {
	var cfg EnvConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redisdir: decode env: %w", err)
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: cl, KeyPrefix: cfg.KeyPrefix}), nil
}

// Close closes the Redis client.
func (d *Directory) Close() error { return d.client.Close() }

func (d *Directory) key(name string) string { return d.keyPrefix + name }

func (d *Directory) Announce(ctx context.Context, inst discovery.Instance, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = discovery.DefaultTTL
	}
	b, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("redisdir: marshal: %w", err)
	}
	return d.client.Set(ctx, d.key(inst.Name), b, ttl).Err()
}

func (d *Directory) Withdraw(ctx context.Context, name string) error {
	return d.client.Del(ctx, d.key(name)).Err()
}

func (d *Directory) Lookup(ctx context.Context, name string) (discovery.Instance, error) {
	b, err := d.client.Get(ctx, d.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return discovery.Instance{}, discovery.ErrNotFound
		}
		return discovery.Instance{}, err
	}
	var inst discovery.Instance
	if err := json.Unmarshal(b, &inst); err != nil {
		return discovery.Instance{}, fmt.Errorf("redisdir: decode %s: %w", name, err)
	}
	return inst, nil
}

func (d *Directory) List(ctx context.Context) ([]discovery.Instance, error) {
	var out []discovery.Instance
	iter := d.client.Scan(ctx, 0, d.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		b, err := d.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			return nil, err
		}
		var inst discovery.Instance
		if err := json.Unmarshal(b, &inst); err != nil {
			continue
		}
		out = append(out, inst)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
