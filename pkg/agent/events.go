// Package agent contains the session loop that drives one voice
// conversation, the presence watchdog that supervises it, and the
// worker that creates sessions from dispatched jobs.
package agent

// Event is a data-channel message sent to the client. Events are
// order-preserving per session and never stored.
type Event interface {
	// EventType returns the wire discriminator.
	EventType() string
}

// UserTranscriptEvent carries a final user utterance.
type UserTranscriptEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

func NewUserTranscript(text string) *UserTranscriptEvent {
	return &UserTranscriptEvent{Type: "user_transcript", Transcript: text}
}

func (e *UserTranscriptEvent) EventType() string { return "user_transcript" }

// AgentTranscriptEvent carries one complete agent utterance.
type AgentTranscriptEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

func NewAgentTranscript(text string) *AgentTranscriptEvent {
	return &AgentTranscriptEvent{Type: "agent_transcript", Transcript: text}
}

func (e *AgentTranscriptEvent) EventType() string { return "agent_transcript" }

// AgentStatusEvent announces a lifecycle change, such as the agent
// leaving the room.
type AgentStatusEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func NewAgentStatus(status, reason string) *AgentStatusEvent {
	return &AgentStatusEvent{Type: "agent_status", Status: status, Reason: reason}
}

func (e *AgentStatusEvent) EventType() string { return "agent_status" }

// ErrorEvent reports a failure to the client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) *ErrorEvent {
	return &ErrorEvent{Type: "error", Message: message}
}

func (e *ErrorEvent) EventType() string { return "error" }
