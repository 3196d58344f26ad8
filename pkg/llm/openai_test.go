package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// sseResponse writes one streamed chat completion from pre-built SSE
// data payloads.
func sseResponse(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func contentChunk(text string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`, text)
}

const stopChunk = `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`

func collect(t *testing.T, s *Stream) string {
	t.Helper()
	var sb strings.Builder
	for chunk := range s.Chunks() {
		sb.WriteString(chunk)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	return sb.String()
}

func TestOpenAIClientStreamsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseResponse(w, contentChunk("Hello"), contentChunk(" there"), stopChunk)
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", nil, WithBaseURL(srv.URL))
	stream, err := c.Chat(context.Background(), []ChatMessage{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got := collect(t, stream); got != "Hello there" {
		t.Errorf("text = %q", got)
	}
}

// scriptedRegistry resolves one known tool and records calls.
type scriptedRegistry struct {
	mu    sync.Mutex
	calls []string
}

func (r *scriptedRegistry) Definitions() []ToolDef {
	return []ToolDef{{
		Name:        "search_knowledge_base",
		Description: "search",
		Parameters:  map[string]any{"type": "object"},
	}}
}

func (r *scriptedRegistry) Invoke(ctx context.Context, name string, input map[string]any) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s(%v)", name, input["query"]))
	return `{"message":"Found 1 relevant documents."}`
}

func TestOpenAIClientRunsToolLoop(t *testing.T) {
	var reqs []map[string]any
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(raw, &req)
		mu.Lock()
		reqs = append(reqs, req)
		n := len(reqs)
		mu.Unlock()

		if n == 1 {
			// First completion requests a tool call.
			sseResponse(w,
				`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search_knowledge_base","arguments":""}}]}}]}`,
				`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":\"refund policy\"}"}}]}}]}`,
				`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			)
			return
		}
		sseResponse(w, contentChunk("One document found."), stopChunk)
	}))
	defer srv.Close()

	registry := &scriptedRegistry{}
	c := NewOpenAIClient("key", nil, WithBaseURL(srv.URL))
	stream, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "what's the refund policy?"}}, registry)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got := collect(t, stream); got != "One document found." {
		t.Errorf("text = %q", got)
	}

	registry.mu.Lock()
	calls := append([]string(nil), registry.calls...)
	registry.mu.Unlock()
	if len(calls) != 1 || calls[0] != "search_knowledge_base(refund policy)" {
		t.Errorf("tool calls = %v", calls)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reqs) != 2 {
		t.Fatalf("completion requests = %d, want 2", len(reqs))
	}
	// The follow-up request carries the tool's result message.
	msgs := reqs[1]["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	if last["role"] != "tool" || last["tool_call_id"] != "call_1" {
		t.Errorf("last message = %v", last)
	}
}

func TestNoOpClientRepliesWithApology(t *testing.T) {
	c := &NoOpClient{}
	stream, err := c.Chat(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	got := collect(t, stream)
	if !strings.Contains(got, "language model") {
		t.Errorf("reply = %q", got)
	}
}
