package relay

import "github.com/collabsandbox/relay/observability"

// Relay event types emitted through the configured observer.
const (
	EventSessionStart     observability.EventType = "relay.session.start"
	EventSessionJoin      observability.EventType = "relay.session.join"
	EventSessionEnd       observability.EventType = "relay.session.end"
	EventTeardownPartial  observability.EventType = "relay.session.teardown_partial"
	EventPublish          observability.EventType = "relay.publish"
	EventFanout           observability.EventType = "relay.fanout"
	EventDropNoSession    observability.EventType = "relay.drop.no_session"
	EventDropUnknown      observability.EventType = "relay.drop.unknown_channel"
	EventMalformedPayload observability.EventType = "relay.payload.malformed"
	EventSandboxInit      observability.EventType = "relay.sandbox.init"
	EventSandboxInitFail  observability.EventType = "relay.sandbox.init_failed"
	EventSandboxStopFail  observability.EventType = "relay.sandbox.stop_failed"
	EventAgentsInit       observability.EventType = "relay.agents.init"
	EventAgentsInitFail   observability.EventType = "relay.agents.init_failed"
)

const eventSource = "relay"
