package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultMemoryBuffer = 256

type delivery struct {
	channel string
	payload []byte
}

// Memory is an in-process Bus. All deliveries drain through a single
// goroutine and a single FIFO, which preserves publish order on every
// channel. It backs tests and deployments where agent nodes run in-process.
type Memory struct {
	handler Handler

	subscriptions map[string]struct{}
	subsMutex     sync.RWMutex

	queue  chan delivery
	closed atomic.Bool

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// MemoryConfig configures a Memory bus.
type MemoryConfig struct {
	// BufferSize bounds the delivery queue. Publish blocks when full.
	BufferSize int
	Logger     *slog.Logger
}

// NewMemory creates a Memory bus delivering to handler.
func NewMemory(ctx context.Context, cfg MemoryConfig, handler Handler) *Memory {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultMemoryBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	busCtx, cancel := context.WithCancel(ctx)
	m := &Memory{
		handler:       handler,
		subscriptions: make(map[string]struct{}),
		queue:         make(chan delivery, cfg.BufferSize),
		logger:        cfg.Logger,
		ctx:           busCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	go m.deliveryLoop()

	return m
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.subsMutex.RLock()
	_, subscribed := m.subscriptions[channel]
	m.subsMutex.RUnlock()

	if !subscribed {
		m.logger.DebugContext(
			ctx,
			"no subscribers for channel",
			slog.String("channel", channel),
		)
		return nil
	}

	select {
	case m.queue <- delivery{channel: channel, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

func (m *Memory) Subscribe(ctx context.Context, channels ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.subsMutex.Lock()
	for _, channel := range channels {
		m.subscriptions[channel] = struct{}{}
	}
	m.subsMutex.Unlock()
	return nil
}

func (m *Memory) Unsubscribe(ctx context.Context, channels ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.subsMutex.Lock()
	for _, channel := range channels {
		delete(m.subscriptions, channel)
	}
	m.subsMutex.Unlock()
	return nil
}

func (m *Memory) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()
	<-m.done
	return nil
}

// Subscribed reports whether a channel currently has a subscription.
// Exposed for tests asserting the no-orphaned-subscription invariant.
func (m *Memory) Subscribed(channel string) bool {
	m.subsMutex.RLock()
	defer m.subsMutex.RUnlock()
	_, ok := m.subscriptions[channel]
	return ok
}

// SubscriptionCount returns the number of subscribed channels.
func (m *Memory) SubscriptionCount() int {
	m.subsMutex.RLock()
	defer m.subsMutex.RUnlock()
	return len(m.subscriptions)
}

func (m *Memory) deliveryLoop() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			return
		case d := <-m.queue:
			// A channel unsubscribed after publish but before dispatch
			// no longer receives the delivery.
			m.subsMutex.RLock()
			_, subscribed := m.subscriptions[d.channel]
			m.subsMutex.RUnlock()
			if !subscribed || m.handler == nil {
				continue
			}
			m.handler(m.ctx, d.channel, d.payload)
		}
	}
}
