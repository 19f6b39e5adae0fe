package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus backed by Redis pub/sub. One subscriber connection is
// shared by every session the relay owns; Redis preserves publish order per
// channel for subscribers present at publish time, which is exactly the
// delivery contract the router relies on.
type Redis struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	handler Handler

	closed atomic.Bool

	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// RedisConfig configures the Redis bus connection.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// DefaultRedisConfig returns a RedisConfig pointing at a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "localhost:6379"}
}

// Merge applies non-zero values from source into c.
func (c *RedisConfig) Merge(source *RedisConfig) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.Password != "" {
		c.Password = source.Password
	}
	if source.DB != 0 {
		c.DB = source.DB
	}
}

// NewRedis connects to Redis and starts the receive loop delivering to
// handler. The connection is verified with a ping before returning.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger, handler Handler) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	busCtx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client:  client,
		pubsub:  client.Subscribe(busCtx),
		handler: handler,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go r.receiveLoop(busCtx)

	return r, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channels ...string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.pubsub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

func (r *Redis) Unsubscribe(ctx context.Context, channels ...string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.pubsub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	err := r.pubsub.Close()
	<-r.done
	if closeErr := r.client.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (r *Redis) receiveLoop(ctx context.Context) {
	defer close(r.done)

	messages := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if r.handler == nil {
				continue
			}
			r.handler(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}
