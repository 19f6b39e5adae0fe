// Package session holds the relay's in-memory table of active collaborative
// sessions. The Registry is the only shared mutable state in the relay; all
// of its operations are atomic with respect to concurrent callers.
package session

import "fmt"

// Kind selects the channel set allocated to a session.
type Kind string

const (
	// SoloAgent sessions pair one human with one agent and its runtime.
	SoloAgent Kind = "solo_agent"
	// HumanPaired sessions additionally carry an agent↔agent conversation
	// and per-agent scene channels.
	HumanPaired Kind = "human_paired"
)

// ParseKind maps a wire value to a Kind. The legacy "Human/AI" spelling is
// accepted for compatibility with older clients.
func ParseKind(value string) (Kind, error) {
	switch value {
	case string(SoloAgent), "":
		return SoloAgent, nil
	case string(HumanPaired), "Human/AI":
		return HumanPaired, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
}

// Session describes one isolated workspace instance. Values returned by the
// Registry are copies; ID, Kind, and Channels are fixed at creation and the
// Channels order is the order in which they were subscribed.
type Session struct {
	ID       string
	Kind     Kind
	Channels []string
}
