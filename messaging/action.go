package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType identifies what an agent action does.
type ActionType string

const (
	ActionSpeak ActionType = "speak"
	ActionWrite ActionType = "write"
	ActionRun   ActionType = "run"
)

// DataTypeAgentAction tags envelopes carrying agent actions on the bus.
const DataTypeAgentAction = "agent_action"

// ErrMalformedPayload is returned by Decode for payloads that do not parse
// as an agent-action envelope.
var ErrMalformedPayload = errors.New("malformed bus payload")

// Action is the normalized form of a client intent published on the bus.
type Action struct {
	AgentName  string     `json:"agent_name"`
	ActionType ActionType `json:"action_type"`
	Argument   string     `json:"argument"`
	Path       string     `json:"path"`
	DataType   string     `json:"data_type"`
}

// Envelope is the wire shape consumed by agent and runtime nodes.
type Envelope struct {
	Data Action `json:"data"`
}

// Marshal serializes the envelope as the bus message body.
func (e *Envelope) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return payload, nil
}

func (e *Envelope) String() string {
	return fmt.Sprintf(
		"Envelope{Agent: %s, Action: %s, Path: %s}",
		e.Data.AgentName,
		e.Data.ActionType,
		e.Data.Path,
	)
}

// Decode parses a bus payload into an envelope. Payloads that are not JSON
// or carry no action type are reported as ErrMalformedPayload; callers are
// expected to log and drop them rather than propagate.
func Decode(payload []byte) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope.Data.ActionType == "" {
		return nil, fmt.Errorf("%w: missing action_type", ErrMalformedPayload)
	}
	return &envelope, nil
}
