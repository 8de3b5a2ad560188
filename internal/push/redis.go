// SPDX-License-Identifier: MIT

package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kinoseat/paywatch/internal/metrics"
	"github.com/kinoseat/paywatch/internal/status"
)

const channelPrefix = "paywatch:booking:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisFeed is a Redis pub/sub backed feed. The gateway publishes its
// notifications to channel "paywatch:booking:<bookingID>"; delivery is
// at-least-once and unordered relative to the poll channel.
type RedisFeed struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(cfg RedisConfig, logger zerolog.Logger) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		metrics.SetPushFeedState(string(StateError))
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis push feed")
	metrics.SetPushFeedState(string(StateConnected))
	return &RedisFeed{client: client, logger: logger}, nil
}

// NewRedisFeedFromClient wraps an existing client; used by tests with
// miniredis.
func NewRedisFeedFromClient(client *redis.Client, logger zerolog.Logger) *RedisFeed {
	metrics.SetPushFeedState(string(StateConnected))
	return &RedisFeed{client: client, logger: logger}
}

// Subscribe starts a pub/sub subscription for the booking. The returned
// Unsubscribe closes the subscription and joins the delivery goroutine,
// so the handler is never invoked after it returns.
func (f *RedisFeed) Subscribe(bookingID string, h Handler) (Unsubscribe, error) {
	pubsub := f.client.Subscribe(context.Background(), channelPrefix+bookingID)

	// Force the subscription to be established before returning so a
	// publish immediately after Subscribe is not lost.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		_ = pubsub.Close()
		metrics.SetPushFeedState(string(StateError))
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var ev status.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.logger.Warn().
					Err(err).
					Str("channel", msg.Channel).
					Msg("malformed push payload dropped")
				continue
			}
			ev.Source = status.SourcePush
			metrics.RecordPushEvent(string(ev.Status))
			h(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

// Publish sends an event to the booking's channel.
func (f *RedisFeed) Publish(ctx context.Context, bookingID string, ev status.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal push event: %w", err)
	}
	if err := f.client.Publish(ctx, channelPrefix+bookingID, payload).Err(); err != nil {
		metrics.SetPushFeedState(string(StateError))
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// HealthCheck reports whether Redis is reachable.
func (f *RedisFeed) HealthCheck(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		metrics.SetPushFeedState(string(StateError))
		return err
	}
	metrics.SetPushFeedState(string(StateConnected))
	return nil
}

// Close closes the Redis connection.
func (f *RedisFeed) Close() error {
	metrics.SetPushFeedState(string(StateDisconnected))
	return f.client.Close()
}
