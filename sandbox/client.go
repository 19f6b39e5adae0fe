// Package sandbox is the HTTP client facade over the external code-execution
// backend. The relay treats the backend purely as a collaborator: one-shot
// calls to initialize or stop the sandbox runtime for a session, plus status
// and health pass-throughs.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/collabsandbox/relay/channels"
)

const (
	defaultNodeName    = "openhands_node"
	defaultInitTimeout = 300 * time.Second
	defaultCallTimeout = 30 * time.Second
)

// UpstreamError reports a failed or rejected backend call. StatusCode is
// zero for transport-level failures (timeouts, refused connections).
type UpstreamError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("sandbox %s failed: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("sandbox %s failed: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Config holds sandbox backend connection parameters.
type Config struct {
	// BaseURL of the execution backend, e.g. "http://localhost:5000".
	BaseURL string `json:"base_url"`
	// NodeName registered with the backend for the runtime node.
	NodeName string `json:"node_name,omitempty"`
	// InitTimeout bounds the /initialize call; sandbox cold starts are slow.
	InitTimeout time.Duration `json:"init_timeout,omitempty"`
	// CallTimeout bounds every other call.
	CallTimeout time.Duration `json:"call_timeout,omitempty"`
	// DisableStopOnEnd leaves the sandbox running when its session ends.
	// By default ending a session also stops its sandbox.
	DisableStopOnEnd bool `json:"disable_stop_on_end,omitempty"`
	// Agents configures the agent orchestration backend.
	Agents AgentsConfig `json:"agents"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NodeName:    defaultNodeName,
		InitTimeout: defaultInitTimeout,
		CallTimeout: defaultCallTimeout,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.NodeName != "" {
		c.NodeName = source.NodeName
	}
	if source.InitTimeout > 0 {
		c.InitTimeout = source.InitTimeout
	}
	if source.CallTimeout > 0 {
		c.CallTimeout = source.CallTimeout
	}
	if source.DisableStopOnEnd {
		c.DisableStopOnEnd = true
	}
	c.Agents.Merge(&source.Agents)
}

// Client issues requests against the sandbox backend and, when configured,
// the agent orchestration backend.
type Client struct {
	config Config
	naming channels.Naming
	http   *http.Client
}

// New creates a Client from configuration. The naming determines the channel
// wiring handed to the backends.
func New(cfg Config, naming channels.Naming) *Client {
	merged := DefaultConfig()
	merged.Merge(&cfg)
	return &Client{
		config: merged,
		naming: naming,
		http:   &http.Client{},
	}
}

type initializeRequest struct {
	NodeName       string   `json:"node_name"`
	InputChannels  []string `json:"input_channels"`
	OutputChannels []string `json:"output_channels"`
	ModalSessionID string   `json:"modal_session_id"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Initialize starts the sandbox runtime for a session, wiring it to the
// session's control and output channels. Blocks up to InitTimeout; a timeout
// surfaces as an UpstreamError, never a hang.
func (c *Client) Initialize(ctx context.Context, sessionID string) error {
	body := initializeRequest{
		NodeName:       c.config.NodeName,
		InputChannels:  []string{channels.AgentControl(sessionID)},
		OutputChannels: []string{channels.RuntimeOutput(sessionID)},
		ModalSessionID: sessionID,
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.InitTimeout)
	defer cancel()

	status, err := c.post(ctx, "initialize", "/initialize", body)
	if err != nil {
		return err
	}
	if status.Status != "initialized" {
		return &UpstreamError{
			Operation: "initialize",
			Message:   fmt.Sprintf("unexpected status %q: %s", status.Status, status.Error),
		}
	}
	return nil
}

// Stop shuts down the sandbox runtime for a session.
func (c *Client) Stop(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	_, err := c.post(ctx, "stop", "/stop", map[string]string{
		"modal_session_id": sessionID,
	})
	return err
}

// Status returns the backend's status body verbatim.
func (c *Client) Status(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "status", "/status")
}

// Health returns the backend's health body verbatim.
func (c *Client) Health(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "health", "/health")
}

// StopOnEnd reports whether session teardown should also stop the sandbox.
func (c *Client) StopOnEnd() bool {
	return !c.config.DisableStopOnEnd
}

func (c *Client) post(ctx context.Context, operation, path string, body any) (*statusResponse, error) {
	return c.postTo(ctx, c.config.BaseURL, operation, path, body)
}

func (c *Client) postTo(ctx context.Context, baseURL, operation, path string, body any) (*statusResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	var status statusResponse
	if err := json.Unmarshal(data, &status); err != nil && resp.StatusCode < 300 {
		return nil, &UpstreamError{Operation: operation, StatusCode: resp.StatusCode, Message: "unparseable response body"}
	}

	if resp.StatusCode >= 300 {
		message := status.Error
		if message == "" {
			message = string(data)
		}
		return nil, &UpstreamError{Operation: operation, StatusCode: resp.StatusCode, Message: message}
	}

	return &status, nil
}

func (c *Client) get(ctx context.Context, operation, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", operation, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode >= 300 {
		return nil, &UpstreamError{Operation: operation, StatusCode: resp.StatusCode, Message: string(data)}
	}
	return data, nil
}
