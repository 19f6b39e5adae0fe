// Package channels derives the fixed set of bus channel names owned by a
// session. Naming is pure: the same (id, kind) pair always yields the same
// channels in the same order, and channel sets for distinct ids never
// intersect because every name embeds the session id as its final segment.
package channels

import (
	"fmt"

	"github.com/collabsandbox/relay/session"
)

// Naming carries the agent identities used to build channel names. The
// identities are deployment configuration, not user input.
type Naming struct {
	AgentA string
	AgentB string
}

// DefaultNaming returns the stock agent identities.
func DefaultNaming() Naming {
	return Naming{AgentA: "Jack", AgentB: "Jane"}
}

// For returns the ordered channel set for a session. HumanPaired sessions
// carry the agent↔agent pair, the two scene channels, the human↔agent pair,
// and the runtime pair; SoloAgent sessions carry only the last four.
func (n Naming) For(id string, kind session.Kind) []string {
	if kind == session.HumanPaired {
		return []string{
			n.AgentToAgent(n.AgentA, n.AgentB, id),
			n.AgentToAgent(n.AgentB, n.AgentA, id),
			Scene(n.AgentA, id),
			Scene(n.AgentB, id),
			n.HumanToAgent(id),
			n.AgentToHuman(id),
			AgentControl(id),
			RuntimeOutput(id),
		}
	}
	return []string{
		n.HumanToAgent(id),
		n.AgentToHuman(id),
		AgentControl(id),
		RuntimeOutput(id),
	}
}

// HumanToAgent is the channel carrying human chat input to the primary agent.
func (n Naming) HumanToAgent(id string) string {
	return fmt.Sprintf("Human:%s:%s", n.AgentA, id)
}

// AgentToHuman is the channel carrying the primary agent's narration back to
// the human.
func (n Naming) AgentToHuman(id string) string {
	return fmt.Sprintf("%s:Human:%s", n.AgentA, id)
}

// AgentToAgent is the channel carrying from's utterances to the other agent.
func (n Naming) AgentToAgent(from, to, id string) string {
	return fmt.Sprintf("%s:%s:%s", from, to, id)
}

// Scene is the channel carrying scenario framing to one agent.
func Scene(agent, id string) string {
	return fmt.Sprintf("Scene:%s:%s", agent, id)
}

// Tick is the clock channel paired agents poll between turns.
func Tick(id string) string {
	return "tick/secs/" + id
}

// AgentControl is the channel carrying file and terminal actions into the
// session's sandbox runtime.
func AgentControl(id string) string {
	return "Agent:Runtime:" + id
}

// RuntimeOutput is the channel carrying sandbox runtime output back out.
func RuntimeOutput(id string) string {
	return "Runtime:Agent:" + id
}
