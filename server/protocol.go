package server

// Command names accepted on the websocket.
const (
	cmdCreateSession   = "create_session"
	cmdJoinSession     = "join_session"
	cmdKillSession     = "kill_session"
	cmdChatMessage     = "chat_message"
	cmdSaveFile        = "save_file"
	cmdTerminalCommand = "terminal_command"
	cmdInitProcess     = "init_process"
	cmdInitAgents      = "init_agent_conversation"
)

// Push message types sent to clients.
const (
	pushNewMessage        = "new_message"
	pushSessionTerminated = "session_terminated"
	pushInitResult        = "init_process_result"
)

// command is the envelope for every client→relay websocket message.
// SessionType is the legacy spelling of SessionKind kept for older clients.
type command struct {
	Command      string `json:"command"`
	SessionKind  string `json:"session_kind,omitempty"`
	SessionType  string `json:"session_type,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Message      string `json:"message,omitempty"`
	Path         string `json:"path,omitempty"`
	Content      string `json:"content,omitempty"`
	InputCommand string `json:"input_command,omitempty"`
}

func (c *command) kindValue() string {
	if c.SessionKind != "" {
		return c.SessionKind
	}
	return c.SessionType
}

// createdReply answers create_session.
type createdReply struct {
	SessionID string `json:"session_id"`
}

// ack answers join_session, kill_session, and malformed commands.
type ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// push is a relay→client event.
type push struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}
