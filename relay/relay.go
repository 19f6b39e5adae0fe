// Package relay implements the session-scoped real-time message relay: it
// creates and destroys collaborative sessions, multiplexes their channel
// sets over one shared pub/sub bus, and fans inbound bus messages out to
// exactly the transport connections joined to the owning session.
//
// The relay initializes from configuration via New, creating the bus and
// sandbox bridge internally. Functional options allow test overrides of any
// collaborator.
//
//	r, err := relay.New(ctx, cfg)
//	id, err := r.StartSession(ctx, session.SoloAgent)
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/collabsandbox/relay/bus"
	"github.com/collabsandbox/relay/channels"
	"github.com/collabsandbox/relay/observability"
	"github.com/collabsandbox/relay/sandbox"
	"github.com/collabsandbox/relay/session"
)

// Notifier delivers relay-originated pushes to transport connections. The
// transport front-end implements it; tests substitute fakes.
type Notifier interface {
	// Deliver forwards a bus payload, annotated with its channel, to one
	// connection.
	Deliver(connID, channel string, payload []byte)
	// SessionTerminated tells a connection its session has ended.
	SessionTerminated(connID string)
	// InitResult reports the outcome of a sandbox initialization.
	InitResult(connID string, result InitResult)
}

// InitResult is the outcome of InitSandbox, pushed to session members.
type InitResult struct {
	SessionID string
	Success   bool
	Error     string
}

// SandboxBridge abstracts the external execution backend. *sandbox.Client
// is the production implementation.
type SandboxBridge interface {
	Initialize(ctx context.Context, sessionID string) error
	InitAgents(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
	Status(ctx context.Context) ([]byte, error)
	Health(ctx context.Context) ([]byte, error)
	StopOnEnd() bool
}

// Option configures a Relay after config-driven initialization.
type Option func(*Relay)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithObserver overrides the config-selected observer.
func WithObserver(obs observability.Observer) Option {
	return func(r *Relay) { r.observer = obs }
}

// WithBus overrides the config-created bus. The caller owns wiring the bus's
// handler to HandleBusMessage.
func WithBus(b bus.Bus) Option {
	return func(r *Relay) { r.bus = b }
}

// WithSandbox overrides the config-created sandbox bridge.
func WithSandbox(bridge SandboxBridge) Option {
	return func(r *Relay) { r.sandbox = bridge }
}

// WithNotifier sets the transport notifier at construction time.
func WithNotifier(n Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

// WithRegistry substitutes a pre-populated session registry.
func WithRegistry(reg *session.Registry) Option {
	return func(r *Relay) { r.registry = reg }
}

// Relay owns the session registry and routes messages between transport
// connections and the bus.
type Relay struct {
	config   *Config
	registry *session.Registry
	naming   channels.Naming

	bus      bus.Bus
	sandbox  SandboxBridge
	notifier Notifier

	logger   *slog.Logger
	observer observability.Observer
	metrics  *Metrics
}

// New creates a Relay from configuration. The bus backend and sandbox bridge
// are created from their config sections unless overridden by options.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Relay, error) {
	if cfg == nil {
		defaults := DefaultConfig()
		cfg = &defaults
	}

	r := &Relay{
		config:   cfg,
		registry: session.NewRegistry(),
		naming:   channels.Naming{AgentA: cfg.Agents.AgentA, AgentB: cfg.Agents.AgentB},
		logger:   slog.Default(),
		metrics:  NewMetrics(),
	}
	if r.naming.AgentA == "" || r.naming.AgentB == "" {
		r.naming = channels.DefaultNaming()
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.observer == nil {
		obs, err := observability.GetObserver(cfg.Observer)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve observer: %w", err)
		}
		r.observer = obs
	}

	if r.bus == nil {
		b, err := r.newBus(ctx)
		if err != nil {
			return nil, err
		}
		r.bus = b
	}

	if r.sandbox == nil && cfg.Sandbox.BaseURL != "" {
		r.sandbox = sandbox.New(cfg.Sandbox, r.naming)
	}

	return r, nil
}

func (r *Relay) newBus(ctx context.Context) (bus.Bus, error) {
	switch r.config.Bus.Backend {
	case BackendMemory, "":
		return bus.NewMemory(ctx, bus.MemoryConfig{
			BufferSize: r.config.Bus.BufferSize,
			Logger:     r.logger,
		}, r.HandleBusMessage), nil
	case BackendRedis:
		b, err := bus.NewRedis(ctx, r.config.Bus.Redis, r.logger, r.HandleBusMessage)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis bus: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown bus backend: %q", r.config.Bus.Backend)
}

// SetNotifier installs the transport notifier. Called by the server during
// startup; must be set before any session carries traffic.
func (r *Relay) SetNotifier(n Notifier) {
	r.notifier = n
}

// Bus returns the underlying bus.
func (r *Relay) Bus() bus.Bus {
	return r.bus
}

// Sandbox returns the sandbox bridge, or nil when none is configured.
func (r *Relay) Sandbox() SandboxBridge {
	return r.sandbox
}

// Registry returns the session registry.
func (r *Relay) Registry() *session.Registry {
	return r.registry
}

// Naming returns the channel naming in effect.
func (r *Relay) Naming() channels.Naming {
	return r.naming
}

// Logger returns the relay's logger.
func (r *Relay) Logger() *slog.Logger {
	return r.logger
}

// Metrics returns a snapshot of the relay counters.
func (r *Relay) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// StartSession allocates a session of the given kind: a fresh random id,
// the channel set derived from (id, kind), a registry entry, and bus
// subscriptions for every channel. A registry collision retries with a new
// id; a subscription failure rolls the entry back so no session exists
// without its subscriptions.
func (r *Relay) StartSession(ctx context.Context, kind session.Kind) (string, error) {
	for attempt := 0; attempt < r.idAttempts(); attempt++ {
		id := uuid.NewString()
		channelSet := r.naming.For(id, kind)

		if _, err := r.registry.Create(id, kind, channelSet); err != nil {
			if errors.Is(err, session.ErrDuplicateSession) {
				continue
			}
			return "", err
		}

		if err := r.bus.Subscribe(ctx, channelSet...); err != nil {
			r.registry.Delete(id)
			return "", fmt.Errorf("failed to subscribe session channels: %w", err)
		}

		r.metrics.RecordSession(1)
		r.emit(ctx, EventSessionStart, observability.LevelInfo, map[string]any{
			"session_id": id,
			"kind":       string(kind),
			"channels":   len(channelSet),
		})
		return id, nil
	}

	return "", ErrIDExhausted
}

// JoinSession adds a connection to an existing session. Existence is checked
// inside the registry's exclusion, so a join racing a teardown fails rather
// than resurrecting the session.
func (r *Relay) JoinSession(ctx context.Context, id, connID string) error {
	if err := r.registry.AddMember(id, connID); err != nil {
		return err
	}

	r.emit(ctx, EventSessionJoin, observability.LevelInfo, map[string]any{
		"session_id": id,
		"conn_id":    connID,
	})
	return nil
}

// LeaveConn detaches a connection from whatever session it belongs to.
// Called on transport disconnect; safe for connections that never joined.
func (r *Relay) LeaveConn(connID string) {
	r.registry.DropConn(connID)
}

// EndSession tears a session down: unsubscribe its channels, notify every
// member, remove the registry entry, and (when configured) stop the sandbox.
// The entry is removed even when unsubscription partially fails — a leaked
// registry entry is permanent, a leaked subscription dies with the process —
// but the failure is surfaced as ErrTeardownPartial for operator visibility.
func (r *Relay) EndSession(ctx context.Context, id string) error {
	sess, err := r.registry.Get(id)
	if err != nil {
		return err
	}

	unsubErr := r.bus.Unsubscribe(ctx, sess.Channels...)

	members := r.registry.Members(id)
	if r.notifier != nil {
		for _, connID := range members {
			r.notifier.SessionTerminated(connID)
		}
	}

	if !r.registry.Delete(id) {
		// A concurrent EndSession won the race; it owns the teardown.
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	r.metrics.RecordSession(-1)

	if r.sandbox != nil && r.sandbox.StopOnEnd() {
		if stopErr := r.sandbox.Stop(ctx, id); stopErr != nil {
			r.emit(ctx, EventSandboxStopFail, observability.LevelWarning, map[string]any{
				"session_id": id,
				"error":      stopErr.Error(),
			})
		}
	}

	if unsubErr != nil {
		r.emit(ctx, EventTeardownPartial, observability.LevelError, map[string]any{
			"session_id": id,
			"error":      unsubErr.Error(),
		})
		return fmt.Errorf("%w: %v", ErrTeardownPartial, unsubErr)
	}

	r.emit(ctx, EventSessionEnd, observability.LevelInfo, map[string]any{
		"session_id": id,
		"members":    len(members),
	})
	return nil
}

// InitSandbox asks the execution backend to initialize the sandbox for a
// session and pushes the outcome as an InitResult. The requesting connection
// always receives the result, even when the session is unknown or the
// requester never joined it; session members receive it additionally. It
// never returns an error and never panics: a client waiting on
// initialization must always get a result event, success or failure.
func (r *Relay) InitSandbox(ctx context.Context, id, connID string) InitResult {
	result := InitResult{SessionID: id}

	if _, err := r.registry.Get(id); err != nil {
		result.Error = err.Error()
	} else if r.sandbox == nil {
		result.Error = ErrNoSandbox.Error()
	} else if err := r.sandbox.Initialize(ctx, id); err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
	}

	if result.Success {
		r.emit(ctx, EventSandboxInit, observability.LevelInfo, map[string]any{
			"session_id": id,
		})
	} else {
		r.emit(ctx, EventSandboxInitFail, observability.LevelWarning, map[string]any{
			"session_id": id,
			"error":      result.Error,
		})
	}

	if r.notifier != nil {
		if connID != "" {
			r.notifier.InitResult(connID, result)
		}
		for _, member := range r.registry.Members(id) {
			if member == connID {
				continue
			}
			r.notifier.InitResult(member, result)
		}
	}
	return result
}

// InitAgentConversation launches the paired-agent conversation for a session
// on the agent orchestration backend. The scenario content comes from the
// sandbox configuration; only the channel wiring is derived from the session.
func (r *Relay) InitAgentConversation(ctx context.Context, id string) error {
	if _, err := r.registry.Get(id); err != nil {
		return err
	}
	if r.sandbox == nil {
		return ErrNoSandbox
	}

	if err := r.sandbox.InitAgents(ctx, id); err != nil {
		r.emit(ctx, EventAgentsInitFail, observability.LevelWarning, map[string]any{
			"session_id": id,
			"error":      err.Error(),
		})
		return err
	}

	r.emit(ctx, EventAgentsInit, observability.LevelInfo, map[string]any{
		"session_id": id,
	})
	return nil
}

// Close ends every active session and shuts the bus down.
func (r *Relay) Close(ctx context.Context) error {
	var firstErr error
	for _, sess := range r.registry.List() {
		if err := r.EndSession(ctx, sess.ID); err != nil && firstErr == nil {
			if !errors.Is(err, session.ErrNotFound) {
				firstErr = err
			}
		}
	}

	if err := r.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (r *Relay) idAttempts() int {
	if r.config.IDAttempts > 0 {
		return r.config.IDAttempts
	}
	return defaultIDAttempts
}

func (r *Relay) emit(ctx context.Context, eventType observability.EventType, level observability.Level, data map[string]any) {
	r.observer.OnEvent(ctx, observability.NewEvent(eventType, level, eventSource, data))
}
