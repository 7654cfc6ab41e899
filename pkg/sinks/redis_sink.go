package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/web3ekko/ekko-pulse/pkg/common"
)

const (
	DefaultKeyPrefix   = "pulse"
	DefaultSnapshotTTL = 5 * time.Minute
)

// RedisClient is the subset of redis operations the sink uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink stores the latest snapshot under <prefix>:<network>:snapshot
// and publishes alert batches on <prefix>:<network>:alerts.
type RedisSink struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink creates a sink over an existing client.
func NewRedisSink(client RedisClient, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis creates a sink backed by a new go-redis client.
func DialRedis(addr, password string, db int, prefix string, ttl time.Duration) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSink(client, prefix, ttl)
}

func (s *RedisSink) SnapshotKey(network string) string {
	return fmt.Sprintf("%s:%s:snapshot", s.prefix, network)
}

func (s *RedisSink) AlertsChannel(network string) string {
	return fmt.Sprintf("%s:%s:alerts", s.prefix, network)
}

// PublishUpdate writes the snapshot and publishes alerts if there are any.
func (s *RedisSink) PublishUpdate(ctx context.Context, u common.Update) error {
	network := u.Snapshot.Network

	data, err := json.Marshal(u.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.SnapshotKey(network), string(data), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", network, err)
	}

	if len(u.Alerts) == 0 {
		return nil
	}
	data, err = json.Marshal(u.Alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}
	if err := s.client.Publish(ctx, s.AlertsChannel(network), string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish alerts for %s: %w", network, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
