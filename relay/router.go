package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/collabsandbox/relay/channels"
	"github.com/collabsandbox/relay/messaging"
	"github.com/collabsandbox/relay/observability"
)

// actorName is the agent identity stamped on client-originated actions.
const actorName = "user"

// SendChat publishes a chat utterance on the caller's human→agent channel.
// A connection with no session membership is a counted no-op: nothing is
// ever published on an unscoped channel.
func (r *Relay) SendChat(ctx context.Context, connID, text string) error {
	id, ok := r.sessionFor(ctx, connID)
	if !ok {
		return nil
	}
	payload, err := messaging.NewSpeak(actorName, text).Marshal()
	if err != nil {
		return err
	}
	return r.publish(ctx, id, r.naming.HumanToAgent(id), payload)
}

// SaveFile publishes a file write on the caller's agent-control channel.
func (r *Relay) SaveFile(ctx context.Context, connID, path, content string) error {
	id, ok := r.sessionFor(ctx, connID)
	if !ok {
		return nil
	}
	payload, err := messaging.NewWrite(actorName, path, content).Marshal()
	if err != nil {
		return err
	}
	return r.publish(ctx, id, channels.AgentControl(id), payload)
}

// RunCommand publishes a terminal command on the caller's agent-control
// channel.
func (r *Relay) RunCommand(ctx context.Context, connID, command string) error {
	id, ok := r.sessionFor(ctx, connID)
	if !ok {
		return nil
	}
	payload, err := messaging.NewRun(actorName, command).Marshal()
	if err != nil {
		return err
	}
	return r.publish(ctx, id, channels.AgentControl(id), payload)
}

// HandleBusMessage is the bus delivery handler: resolve the channel to its
// owning session and forward the raw payload to every member connection.
// Messages for channels with no session (a teardown race) are dropped;
// malformed payloads are counted and dropped without disturbing the
// subscription.
func (r *Relay) HandleBusMessage(ctx context.Context, channel string, payload []byte) {
	if !json.Valid(payload) {
		r.metrics.RecordMalformedPayload(1)
		r.emit(ctx, EventMalformedPayload, observability.LevelWarning, map[string]any{
			"channel": channel,
			"bytes":   len(payload),
		})
		return
	}

	sess, ok := r.registry.SessionForChannel(channel)
	if !ok {
		r.emit(ctx, EventDropUnknown, observability.LevelVerbose, map[string]any{
			"channel": channel,
		})
		return
	}

	members := r.registry.Members(sess.ID)
	if r.notifier == nil || len(members) == 0 {
		return
	}
	for _, connID := range members {
		r.notifier.Deliver(connID, channel, payload)
	}

	data := map[string]any{
		"session_id": sess.ID,
		"channel":    channel,
		"members":    len(members),
	}
	// Runtime and scene channels also carry plain JSON; only agent actions
	// get the extra annotation.
	if envelope, err := messaging.Decode(payload); err == nil {
		data["action_type"] = string(envelope.Data.ActionType)
	}

	r.metrics.RecordFannedOut(len(members))
	r.emit(ctx, EventFanout, observability.LevelVerbose, data)
}

// sessionFor resolves a connection to its session membership, counting the
// no-membership case as a dropped action.
func (r *Relay) sessionFor(ctx context.Context, connID string) (string, bool) {
	id, ok := r.registry.SessionForConn(connID)
	if !ok {
		r.metrics.RecordDroppedNoSession(1)
		r.emit(ctx, EventDropNoSession, observability.LevelWarning, map[string]any{
			"conn_id": connID,
		})
		return "", false
	}
	return id, true
}

func (r *Relay) publish(ctx context.Context, sessionID, channel string, payload []byte) error {
	if err := r.bus.Publish(ctx, channel, payload); err != nil {
		r.logger.ErrorContext(
			ctx,
			"publish failed",
			slog.String("session_id", sessionID),
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.metrics.RecordPublished(1)
	r.emit(ctx, EventPublish, observability.LevelVerbose, map[string]any{
		"session_id": sessionID,
		"channel":    channel,
	})
	return nil
}
