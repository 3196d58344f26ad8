// Package llm defines the language-model boundary for the voice agent:
// an ordered conversation history in, a stream of text increments out.
// Tool calls requested by the model are resolved inside the client
// against a registry passed per call, so no tool state leaks between
// turns.
package llm

import (
	"context"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of the conversation history. The history is
// append-only for the lifetime of a session and owned by the session
// loop.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef describes one tool the model may invoke by name.
type ToolDef struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the tool input.
	Parameters map[string]any
}

// ToolRegistry resolves model tool calls. Invoke must never fail: tool
// errors are encoded in the returned payload so the model can react to
// them conversationally.
type ToolRegistry interface {
	Definitions() []ToolDef
	Invoke(ctx context.Context, name string, input map[string]any) string
}

// Client produces one streamed completion per call.
type Client interface {
	// Name returns the provider identifier.
	Name() string

	// Chat sends the full history plus the registered tools and returns
	// a stream of text increments. The client drives the provider's
	// tool-calling protocol internally; only assistant text reaches the
	// stream.
	Chat(ctx context.Context, history []ChatMessage, tools ToolRegistry) (*Stream, error)
}

// Stream is a lazy sequence of text increments terminated by channel
// close. Err reports a failure observed after the last delivered chunk.
type Stream struct {
	chunks chan string
	done   chan struct{}
	err    error
}

// NewStream creates an empty stream with the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{
		chunks: make(chan string, buffer),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of text increments. The channel is closed
// at end of stream.
func (s *Stream) Chunks() <-chan string {
	return s.chunks
}

// Err returns the stream error, if any. Valid after Chunks is drained.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Push delivers one increment. Returns false when the stream was
// abandoned by the consumer.
func (s *Stream) Push(ctx context.Context, text string) bool {
	select {
	case s.chunks <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish terminates the stream, recording err if non-nil.
func (s *Stream) Finish(err error) {
	s.err = err
	close(s.chunks)
	close(s.done)
}
