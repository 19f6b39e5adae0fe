package relay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/collabsandbox/relay/bus"
	"github.com/collabsandbox/relay/sandbox"
)

const (
	// BackendMemory runs the bus in-process.
	BackendMemory = "memory"
	// BackendRedis connects the bus to a Redis server.
	BackendRedis = "redis"

	defaultIDAttempts = 5
)

// AgentsConfig names the agent identities embedded in channel names.
// These are deployment configuration, never user input.
type AgentsConfig struct {
	AgentA string `json:"agent_a,omitempty"`
	AgentB string `json:"agent_b,omitempty"`
}

// Merge applies non-empty values from source into c.
func (c *AgentsConfig) Merge(source *AgentsConfig) {
	if source.AgentA != "" {
		c.AgentA = source.AgentA
	}
	if source.AgentB != "" {
		c.AgentB = source.AgentB
	}
}

// BusConfig selects and configures the bus backend.
type BusConfig struct {
	Backend    string          `json:"backend"`
	BufferSize int             `json:"buffer_size,omitempty"`
	Redis      bus.RedisConfig `json:"redis"`
}

// Merge applies non-zero values from source into c.
func (c *BusConfig) Merge(source *BusConfig) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.BufferSize > 0 {
		c.BufferSize = source.BufferSize
	}
	c.Redis.Merge(&source.Redis)
}

// ServerConfig holds the transport front-end settings. It lives here so the
// whole deployment loads from one config file.
type ServerConfig struct {
	Addr string `json:"addr"`
	// AllowedOrigins restricts websocket upgrades; empty allows all.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// MaxMessageBytes caps inbound websocket messages.
	MaxMessageBytes int64 `json:"max_message_bytes,omitempty"`
}

// Merge applies non-zero values from source into c.
func (c *ServerConfig) Merge(source *ServerConfig) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if len(source.AllowedOrigins) > 0 {
		c.AllowedOrigins = source.AllowedOrigins
	}
	if source.MaxMessageBytes > 0 {
		c.MaxMessageBytes = source.MaxMessageBytes
	}
}

// Config holds initialization parameters for all relay subsystems.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Bus      BusConfig      `json:"bus"`
	Sandbox  sandbox.Config `json:"sandbox"`
	Agents   AgentsConfig   `json:"agents"`
	Observer string         `json:"observer,omitempty"`
	// IDAttempts bounds session id regeneration on a registry collision.
	IDAttempts int `json:"id_attempts,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MaxMessageBytes: 1 << 20,
		},
		Bus: BusConfig{
			Backend: BackendMemory,
			Redis:   bus.DefaultRedisConfig(),
		},
		Sandbox:    sandbox.DefaultConfig(),
		Agents:     AgentsConfig{AgentA: "Jack", AgentB: "Jane"},
		Observer:   "slog",
		IDAttempts: defaultIDAttempts,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Server.Merge(&source.Server)
	c.Bus.Merge(&source.Bus)
	c.Sandbox.Merge(&source.Sandbox)
	c.Agents.Merge(&source.Agents)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.IDAttempts > 0 {
		c.IDAttempts = source.IDAttempts
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
