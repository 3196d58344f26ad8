// Package tools holds the agent's callable tools and the registry the
// model dispatches through. A tool never returns a Go error from
// Invoke: failures are encoded as a JSON payload with an "error" key
// so the model can explain the problem to the user instead of the
// session aborting.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/optiflow/voiceagent/pkg/llm"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema object for the tool input.
	Parameters() map[string]any
	// Invoke runs the tool and returns the result payload for the
	// model. It must not panic and must not return an unencoded error.
	Invoke(ctx context.Context, input map[string]any) string
}

// Registry is a named set of tools. It satisfies llm.ToolRegistry.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Registering the same name twice replaces the
// earlier tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions lists registered tools in name order.
func (r *Registry) Definitions() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke dispatches one call. Unknown names and tool panics produce
// error payloads rather than failures.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any) (result string) {
	t, ok := r.Get(name)
	if !ok {
		return ErrorPayload(fmt.Sprintf("unknown tool: %s", name))
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			result = ErrorPayload(fmt.Sprintf("tool %s failed", name))
		}
	}()
	return t.Invoke(ctx, input)
}

// ErrorPayload encodes msg as the canonical tool failure result.
func ErrorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// stringArg pulls a string field out of a tool input map.
func stringArg(input map[string]any, key string) string {
	v, ok := input[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// mapArg pulls an object field out of a tool input map.
func mapArg(input map[string]any, key string) map[string]any {
	v, ok := input[key]
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}
