package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/scheduler"
)

// RedisSink publishes scheduler Events to a Redis/Valkey server: one key
// per tag holding its most recent event, plus an optional Pub/Sub
// broadcast. Grounded on valkey/publisher.go's Publisher.Start/Publish:
// same redis.Options construction, same Set-then-Publish shape, same
// joinKey-style colon-delimited key naming.
type RedisSink struct {
	cfg    *config.RedisSinkConfig
	client *redis.Client
}

// NewRedisSink connects to the server named in cfg, verifying reachability
// with a Ping before returning.
func NewRedisSink(cfg *config.RedisSinkConfig) (*RedisSink, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("sink: redis connect to %s: %w", cfg.Address, err)
	}

	return &RedisSink{cfg: cfg, client: client}, nil
}

func (s *RedisSink) key(ev scheduler.Event) string {
	return fmt.Sprintf("%s:tag:%d:last_event", s.cfg.KeyPrefix, ev.TagID)
}

// Publish sets ev's key and, if enabled, broadcasts it on the
// <key_prefix>:events Pub/Sub channel.
func (s *RedisSink) Publish(ctx context.Context, ev scheduler.Event) error {
	payload, err := marshal(newMessage(ev))
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(ev), payload, s.cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("sink: redis set %s: %w", s.key(ev), err)
	}

	if s.cfg.PublishChanges {
		channel := s.cfg.KeyPrefix + ":events"
		if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("sink: redis publish to %s: %w", channel, err)
		}
	}
	return nil
}

// Close closes the underlying client connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
