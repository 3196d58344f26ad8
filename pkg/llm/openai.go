package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// maxToolRounds bounds the tool-call loop within a single Chat call so
// a model that keeps requesting tools cannot stall the turn forever.
const maxToolRounds = 8

// OpenAIClient streams completions from the OpenAI chat API and
// resolves tool calls in-line before continuing the stream.
type OpenAIClient struct {
	api    *openai.Client
	apiKey string
	model  string
	logger *slog.Logger
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithModel overrides the default model.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at a compatible endpoint, used by
// tests and by OpenAI-compatible gateways.
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		if url == "" {
			return
		}
		cfg := openai.DefaultConfig(c.apiKey)
		cfg.BaseURL = url
		c.api = openai.NewClientWithConfig(cfg)
	}
}

// NewOpenAIClient builds a client for the given API key.
func NewOpenAIClient(apiKey string, logger *slog.Logger, opts ...OpenAIOption) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &OpenAIClient{
		api:    openai.NewClient(apiKey),
		apiKey: apiKey,
		model:  DefaultModel,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAIClient) Name() string { return "openai" }

// Chat implements Client. The stream is fed from a goroutine that runs
// the provider protocol: whenever a completion ends with tool calls,
// every call is invoked against the registry, the results are appended
// as tool messages, and a fresh completion is requested.
func (c *OpenAIClient) Chat(ctx context.Context, history []ChatMessage, tools ToolRegistry) (*Stream, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var defs []openai.Tool
	if tools != nil {
		for _, d := range tools.Definitions() {
			params, err := json.Marshal(d.Parameters)
			if err != nil {
				return nil, fmt.Errorf("llm: marshal parameters for tool %q: %w", d.Name, err)
			}
			defs = append(defs, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        d.Name,
					Description: d.Description,
					Parameters:  json.RawMessage(params),
				},
			})
		}
	}

	out := NewStream(16)
	go func() {
		err := c.run(ctx, msgs, defs, tools, out)
		out.Finish(err)
	}()
	return out, nil
}

func (c *OpenAIClient) run(ctx context.Context, msgs []openai.ChatCompletionMessage, defs []openai.Tool, tools ToolRegistry, out *Stream) error {
	for round := 0; round < maxToolRounds; round++ {
		req := openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: msgs,
			Stream:   true,
		}
		if len(defs) > 0 {
			req.Tools = defs
		}

		stream, err := c.api.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return fmt.Errorf("llm: create completion: %w", err)
		}

		calls, finish, err := c.pump(ctx, stream, out)
		stream.Close()
		if err != nil {
			return err
		}

		if finish != openai.FinishReasonToolCalls || len(calls) == 0 {
			return nil
		}

		assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		assistant.ToolCalls = calls
		msgs = append(msgs, assistant)

		for _, call := range calls {
			result := c.invoke(ctx, tools, call)
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
	return errors.New("llm: tool call loop exceeded limit")
}

// pump drains a single completion stream, forwarding text to out and
// accumulating any tool calls the model assembles across deltas.
func (c *OpenAIClient) pump(ctx context.Context, stream *openai.ChatCompletionStream, out *Stream) ([]openai.ToolCall, openai.FinishReason, error) {
	var (
		calls  []openai.ToolCall
		finish openai.FinishReason
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return calls, finish, nil
		}
		if err != nil {
			return nil, finish, fmt.Errorf("llm: stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			if !out.Push(ctx, choice.Delta.Content) {
				return nil, finish, ctx.Err()
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(calls) <= idx {
				calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if tc.ID != "" {
				calls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].Function.Name += tc.Function.Name
			}
			calls[idx].Function.Arguments += tc.Function.Arguments
		}
	}
}

// invoke runs one tool call. Malformed arguments and unknown tools are
// reported back to the model as error payloads rather than aborting
// the turn.
func (c *OpenAIClient) invoke(ctx context.Context, tools ToolRegistry, call openai.ToolCall) string {
	name := call.Function.Name
	if tools == nil {
		return errorPayload(fmt.Sprintf("unknown tool: %s", name))
	}
	input := map[string]any{}
	args := strings.TrimSpace(call.Function.Arguments)
	if args != "" {
		if err := json.Unmarshal([]byte(args), &input); err != nil {
			c.logger.Warn("tool arguments not valid JSON", "tool", name, "error", err)
			return errorPayload(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
	}
	c.logger.Info("invoking tool", "tool", name)
	return tools.Invoke(ctx, name, input)
}

func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
