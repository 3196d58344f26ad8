package llm

import "context"

// NoOpClient answers every turn with a fixed apology. It stands in
// when no model credentials are configured so the session loop keeps
// its shape in local development.
type NoOpClient struct {
	Reply string
}

const noopReply = "I'm sorry, I don't have a language model configured right now."

func (c *NoOpClient) Name() string { return "noop" }

func (c *NoOpClient) Chat(ctx context.Context, history []ChatMessage, tools ToolRegistry) (*Stream, error) {
	reply := c.Reply
	if reply == "" {
		reply = noopReply
	}
	out := NewStream(1)
	go func() {
		out.Push(ctx, reply)
		out.Finish(nil)
	}()
	return out, nil
}
