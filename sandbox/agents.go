package sandbox

import (
	"context"
	"fmt"

	"github.com/collabsandbox/relay/channels"
)

const (
	defaultRedisURL = "redis://localhost:6379/0"

	// Stagger the agents' polling so they do not answer in lockstep.
	defaultQueryIntervalA = 5
	defaultQueryIntervalB = 7
)

// AgentProfile configures one conversational agent node. Goal and Scenario
// are deployment content, never derived from client input.
type AgentProfile struct {
	// Goal given to the agent for the whole conversation.
	Goal string `json:"goal"`
	// Scenario frames the agent's opening context; empty skips the framing
	// node for this agent.
	Scenario string `json:"scenario,omitempty"`
	// Model name passed to the orchestrator.
	Model string `json:"model,omitempty"`
	// QueryInterval is the agent's polling cadence in seconds.
	QueryInterval int `json:"query_interval,omitempty"`
}

func (p *AgentProfile) merge(source *AgentProfile) {
	if source.Goal != "" {
		p.Goal = source.Goal
	}
	if source.Scenario != "" {
		p.Scenario = source.Scenario
	}
	if source.Model != "" {
		p.Model = source.Model
	}
	if source.QueryInterval > 0 {
		p.QueryInterval = source.QueryInterval
	}
}

// AgentsConfig configures the agent orchestration backend that runs the
// paired-agent conversation. It is a separate service from the code runtime,
// hence its own base URL.
type AgentsConfig struct {
	// BaseURL of the orchestrator, e.g. "http://localhost:9000". Empty
	// disables agent conversations.
	BaseURL string `json:"base_url,omitempty"`
	// RedisURL handed to the orchestrator so its nodes join the same bus.
	RedisURL string `json:"redis_url,omitempty"`
	// ExtraModules the orchestrator loads before building the node graph.
	ExtraModules []string     `json:"extra_modules,omitempty"`
	AgentA       AgentProfile `json:"agent_a"`
	AgentB       AgentProfile `json:"agent_b"`
}

// Merge applies non-zero values from source into c.
func (c *AgentsConfig) Merge(source *AgentsConfig) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.RedisURL != "" {
		c.RedisURL = source.RedisURL
	}
	if len(source.ExtraModules) > 0 {
		c.ExtraModules = source.ExtraModules
	}
	c.AgentA.merge(&source.AgentA)
	c.AgentB.merge(&source.AgentB)
}

type agentNode struct {
	NodeName  string         `json:"node_name"`
	NodeClass string         `json:"node_class"`
	NodeArgs  map[string]any `json:"node_args,omitempty"`
}

type initAgentsRequest struct {
	RedisURL     string      `json:"redis_url"`
	ExtraModules []string    `json:"extra_modules,omitempty"`
	Nodes        []agentNode `json:"nodes"`
}

// InitAgents launches the paired-agent conversation for a session: two agent
// nodes wired to the session's channels plus a shared tick node, with an
// initial scene node per agent that has scenario content configured. Success
// requires the orchestrator to answer {"status":"success"}.
func (c *Client) InitAgents(ctx context.Context, sessionID string) error {
	cfg := c.config.Agents
	if cfg.BaseURL == "" {
		return &UpstreamError{
			Operation: "init-agents",
			Message:   "agent orchestrator not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.InitTimeout)
	defer cancel()

	body := initAgentsRequest{
		RedisURL:     cfg.RedisURL,
		ExtraModules: cfg.ExtraModules,
		Nodes:        c.agentNodes(sessionID),
	}
	if body.RedisURL == "" {
		body.RedisURL = defaultRedisURL
	}

	status, err := c.postTo(ctx, cfg.BaseURL, "init-agents", "/init-agents", body)
	if err != nil {
		return err
	}
	if status.Status != "success" {
		return &UpstreamError{
			Operation: "init-agents",
			Message:   fmt.Sprintf("unexpected status %q: %s", status.Status, status.Error),
		}
	}
	return nil
}

func (c *Client) agentNodes(sessionID string) []agentNode {
	a, b := c.naming.AgentA, c.naming.AgentB
	tick := channels.Tick(sessionID)

	nodes := []agentNode{
		c.llmAgentNode(sessionID, a, b, c.config.Agents.AgentA, defaultQueryIntervalA),
		c.llmAgentNode(sessionID, b, a, c.config.Agents.AgentB, defaultQueryIntervalB),
		{NodeName: "tick", NodeClass: "tick"},
	}

	for _, scene := range []struct {
		agent    string
		scenario string
	}{
		{a, c.config.Agents.AgentA.Scenario},
		{b, c.config.Agents.AgentB.Scenario},
	} {
		if scene.scenario == "" {
			continue
		}
		nodes = append(nodes, agentNode{
			NodeName:  scene.agent + "Scene",
			NodeClass: "initial_message",
			NodeArgs: map[string]any{
				"input_tick_channel": tick,
				"output_channels":    []string{channels.Scene(scene.agent, sessionID)},
				"env_scenario":       scene.scenario,
			},
		})
	}

	return nodes
}

func (c *Client) llmAgentNode(sessionID, name, peer string, profile AgentProfile, defaultInterval int) agentNode {
	interval := profile.QueryInterval
	if interval <= 0 {
		interval = defaultInterval
	}

	return agentNode{
		NodeName:  name,
		NodeClass: "llm_agent",
		NodeArgs: map[string]any{
			"agent_name":          name,
			"goal":                profile.Goal,
			"model_name":          profile.Model,
			"query_interval":      interval,
			"output_channel":      c.naming.AgentToAgent(name, peer, sessionID),
			"input_text_channels": []string{c.naming.AgentToAgent(peer, name, sessionID)},
			"input_env_channels": []string{
				channels.Scene(name, sessionID),
				channels.RuntimeOutput(sessionID),
			},
			"input_tick_channel": channels.Tick(sessionID),
		},
	}
}
