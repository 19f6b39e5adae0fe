// Package messaging defines the agent-action envelope published on the bus
// and a fluent builder for constructing it.
//
// # Envelope shape
//
// Every client intent the relay translates — chat text, file saves, terminal
// commands — is published as one JSON envelope:
//
//	{
//	  "data": {
//	    "agent_name":  "user",
//	    "action_type": "speak" | "write" | "run",
//	    "argument":    <message text, file content, or command>,
//	    "path":        <file path, empty for speak/run>,
//	    "data_type":   "agent_action"
//	  }
//	}
//
// This shape is the contract with the agent and runtime nodes subscribed to
// the session's channels and must not change incompatibly.
//
// # Construction
//
//	payload, err := messaging.NewSpeak("user", "hello").Marshal()
//	payload, err := messaging.NewWrite("user", "main.py", content).Marshal()
//	payload, err := messaging.NewRun("user", "pytest").Marshal()
//
// Decode is the tolerant inverse used on the inbound path: it returns
// ErrMalformedPayload for anything that does not parse, which the router
// logs and drops without disturbing the bus subscription.
package messaging
