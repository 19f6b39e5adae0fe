package messaging

// ActionBuilder constructs agent-action envelopes with a fluent API.
type ActionBuilder struct {
	envelope *Envelope
}

// NewAction starts an envelope for the given actor and action type.
func NewAction(actor string, actionType ActionType, argument string) *ActionBuilder {
	return &ActionBuilder{
		envelope: &Envelope{
			Data: Action{
				AgentName:  actor,
				ActionType: actionType,
				Argument:   argument,
				DataType:   DataTypeAgentAction,
			},
		},
	}
}

// NewSpeak builds a chat utterance.
func NewSpeak(actor, text string) *ActionBuilder {
	return NewAction(actor, ActionSpeak, text)
}

// NewWrite builds a file-save action targeting path.
func NewWrite(actor, path, content string) *ActionBuilder {
	return NewAction(actor, ActionWrite, content).Path(path)
}

// NewRun builds a terminal command action.
func NewRun(actor, command string) *ActionBuilder {
	return NewAction(actor, ActionRun, command)
}

// Path sets the file path the action applies to.
func (b *ActionBuilder) Path(path string) *ActionBuilder {
	b.envelope.Data.Path = path
	return b
}

// Build returns the constructed envelope.
func (b *ActionBuilder) Build() *Envelope {
	return b.envelope
}

// Marshal builds and serializes the envelope in one step.
func (b *ActionBuilder) Marshal() ([]byte, error) {
	return b.envelope.Marshal()
}
