package sandbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/collabsandbox/relay/channels"
	"github.com/collabsandbox/relay/sandbox"
)

func TestInitialize_Success(t *testing.T) {
	var gotBody map[string]any
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/initialize" {
			t.Errorf("path = %q, want /initialize", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "initialized"})
	}))
	defer backend.Close()

	client := sandbox.New(sandbox.Config{BaseURL: backend.URL}, channels.DefaultNaming())

	if err := client.Initialize(context.Background(), "s1"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if gotBody["node_name"] != "openhands_node" {
		t.Errorf("node_name = %v, want openhands_node", gotBody["node_name"])
	}
	if gotBody["modal_session_id"] != "s1" {
		t.Errorf("modal_session_id = %v, want s1", gotBody["modal_session_id"])
	}

	inputs, _ := gotBody["input_channels"].([]any)
	if len(inputs) != 1 || inputs[0] != "Agent:Runtime:s1" {
		t.Errorf("input_channels = %v, want [Agent:Runtime:s1]", inputs)
	}
	outputs, _ := gotBody["output_channels"].([]any)
	if len(outputs) != 1 || outputs[0] != "Runtime:Agent:s1" {
		t.Errorf("output_channels = %v, want [Runtime:Agent:s1]", outputs)
	}
}

func TestInitialize_UpstreamError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no capacity"})
	}))
	defer backend.Close()

	client := sandbox.New(sandbox.Config{BaseURL: backend.URL}, channels.DefaultNaming())

	err := client.Initialize(context.Background(), "s1")
	var upstream *sandbox.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Initialize() error = %v, want *UpstreamError", err)
	}
	if upstream.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", upstream.StatusCode)
	}
	if upstream.Message != "no capacity" {
		t.Errorf("Message = %q, want upstream error text", upstream.Message)
	}
}

func TestInitialize_UnexpectedStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer backend.Close()

	client := sandbox.New(sandbox.Config{BaseURL: backend.URL}, channels.DefaultNaming())

	err := client.Initialize(context.Background(), "s1")
	var upstream *sandbox.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Initialize() error = %v, want *UpstreamError", err)
	}
}

func TestInitialize_TimeoutSurfacesError(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		backend.Close()
	}()

	client := sandbox.New(sandbox.Config{
		BaseURL:     backend.URL,
		InitTimeout: 50 * time.Millisecond,
	}, channels.DefaultNaming())

	start := time.Now()
	err := client.Initialize(context.Background(), "s1")
	if err == nil {
		t.Fatal("Initialize() succeeded against a hung backend")
	}
	var upstream *sandbox.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Initialize() error = %v, want *UpstreamError", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Initialize() took %v, want prompt timeout", elapsed)
	}
}

func TestStop(t *testing.T) {
	var gotBody map[string]string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stop" {
			t.Errorf("path = %q, want /stop", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
	}))
	defer backend.Close()

	client := sandbox.New(sandbox.Config{BaseURL: backend.URL}, channels.DefaultNaming())

	if err := client.Stop(context.Background(), "s1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if gotBody["modal_session_id"] != "s1" {
		t.Errorf("modal_session_id = %q, want s1", gotBody["modal_session_id"])
	}
}

func TestStatusAndHealth_PassThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			_, _ = w.Write([]byte(`{"status":"running"}`))
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer backend.Close()

	client := sandbox.New(sandbox.Config{BaseURL: backend.URL}, channels.DefaultNaming())

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if string(status) != `{"status":"running"}` {
		t.Errorf("Status() = %s, want verbatim body", status)
	}

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if string(health) != `{"status":"healthy"}` {
		t.Errorf("Health() = %s, want verbatim body", health)
	}
}

func TestStopOnEnd_Default(t *testing.T) {
	client := sandbox.New(sandbox.Config{BaseURL: "http://localhost:5000"}, channels.DefaultNaming())
	if !client.StopOnEnd() {
		t.Error("StopOnEnd() = false by default, want true")
	}

	client = sandbox.New(sandbox.Config{BaseURL: "http://localhost:5000", DisableStopOnEnd: true}, channels.DefaultNaming())
	if client.StopOnEnd() {
		t.Error("StopOnEnd() = true with DisableStopOnEnd, want false")
	}
}

func TestInitAgents_Success(t *testing.T) {
	var gotBody map[string]any
	orchestrator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/init-agents" {
			t.Errorf("path = %q, want /init-agents", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer orchestrator.Close()

	client := sandbox.New(sandbox.Config{
		BaseURL: "http://localhost:5000",
		Agents: sandbox.AgentsConfig{
			BaseURL: orchestrator.URL,
			AgentA:  sandbox.AgentProfile{Goal: "interview the candidate", Scenario: "office"},
			AgentB:  sandbox.AgentProfile{Goal: "pass the interview"},
		},
	}, channels.DefaultNaming())

	if err := client.InitAgents(context.Background(), "s1"); err != nil {
		t.Fatalf("InitAgents() error = %v", err)
	}

	if gotBody["redis_url"] == "" {
		t.Error("redis_url not defaulted")
	}

	nodes, _ := gotBody["nodes"].([]any)
	byName := make(map[string]map[string]any, len(nodes))
	for _, raw := range nodes {
		node, _ := raw.(map[string]any)
		name, _ := node["node_name"].(string)
		byName[name] = node
	}

	// Both agents, the tick node, and one scene node (only AgentA has a
	// scenario configured).
	for _, wantName := range []string{"Jack", "Jane", "tick", "JackScene"} {
		if _, ok := byName[wantName]; !ok {
			t.Errorf("node %q missing from %v", wantName, byName)
		}
	}
	if _, ok := byName["JaneScene"]; ok {
		t.Error("JaneScene node present without a configured scenario")
	}

	jack, _ := byName["Jack"]["node_args"].(map[string]any)
	if jack["output_channel"] != "Jack:Jane:s1" {
		t.Errorf("Jack output_channel = %v, want Jack:Jane:s1", jack["output_channel"])
	}
	if jack["goal"] != "interview the candidate" {
		t.Errorf("Jack goal = %v, want configured goal", jack["goal"])
	}
	inputs, _ := jack["input_text_channels"].([]any)
	if len(inputs) != 1 || inputs[0] != "Jane:Jack:s1" {
		t.Errorf("Jack input_text_channels = %v, want [Jane:Jack:s1]", inputs)
	}
}

func TestInitAgents_NotConfigured(t *testing.T) {
	client := sandbox.New(sandbox.Config{BaseURL: "http://localhost:5000"}, channels.DefaultNaming())

	err := client.InitAgents(context.Background(), "s1")
	var upstream *sandbox.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("InitAgents() error = %v, want *UpstreamError", err)
	}
}

func TestInitAgents_UnexpectedStatus(t *testing.T) {
	orchestrator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "bad node graph"})
	}))
	defer orchestrator.Close()

	client := sandbox.New(sandbox.Config{
		BaseURL: "http://localhost:5000",
		Agents:  sandbox.AgentsConfig{BaseURL: orchestrator.URL},
	}, channels.DefaultNaming())

	err := client.InitAgents(context.Background(), "s1")
	var upstream *sandbox.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("InitAgents() error = %v, want *UpstreamError", err)
	}
}
