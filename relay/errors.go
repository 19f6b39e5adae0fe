package relay

import "errors"

// Sentinel errors for relay lifecycle operations.
var (
	// ErrTeardownPartial reports that a session's entry was removed but one
	// or more channel unsubscriptions failed. The registry no longer holds
	// the session; the remaining subscriptions are dead weight on the bus
	// until the process restarts and operators should know about it.
	ErrTeardownPartial = errors.New("session teardown partially failed")

	// ErrIDExhausted reports that session id generation collided with the
	// registry on every attempt. With random 128-bit ids this indicates a
	// programmer error, not bad luck.
	ErrIDExhausted = errors.New("failed to allocate a unique session id")

	// ErrNoSandbox reports an init request against a relay with no sandbox
	// backend configured.
	ErrNoSandbox = errors.New("no sandbox backend configured")
)
