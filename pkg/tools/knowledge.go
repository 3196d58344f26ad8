package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/optiflow/voiceagent/pkg/backend"
)

const (
	untitledDocument = "Untitled Document"
	unknownSource    = "Unknown Source"
)

// KnowledgeLookup searches the user's knowledge base through the
// Optiflow backend. When the backend is not configured it returns a
// simulated result so the conversation flow can be exercised without
// credentials.
type KnowledgeLookup struct {
	client *backend.Client
	userID string
	logger *slog.Logger
}

// NewKnowledgeLookup binds the tool to a backend client and the user
// whose documents are searched.
func NewKnowledgeLookup(client *backend.Client, userID string, logger *slog.Logger) *KnowledgeLookup {
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeLookup{client: client, userID: userID, logger: logger}
}

func (t *KnowledgeLookup) Name() string { return "search_knowledge_base" }

func (t *KnowledgeLookup) Description() string {
	return "Search the user's knowledge base for documents relevant to a query. Use this when the user asks about their own notes, files, or stored information."
}

func (t *KnowledgeLookup) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to search for.",
			},
			"kb_type": map[string]any{
				"type":        "string",
				"description": "Optional knowledge base to search: 'personal', 'team', or 'organization'. Omit to search all.",
			},
		},
		"required": []string{"query"},
	}
}

// searchResult is the per-document shape handed to the model.
type searchResult struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Message string         `json:"message"`
	Results []searchResult `json:"results"`
}

func (t *KnowledgeLookup) Invoke(ctx context.Context, input map[string]any) string {
	query := stringArg(input, "query")
	if query == "" {
		return ErrorPayload("query is required")
	}
	kbType := stringArg(input, "kb_type")

	if !t.client.Configured() {
		t.logger.Info("knowledge search running without backend credentials", "query", query, "kb_type", kbType)
		scope := kbType
		if scope == "" {
			scope = "all"
		}
		return marshal(searchResponse{
			Message: "Found 1 relevant documents.",
			Results: []searchResult{{
				Title:   "Simulated Result",
				Content: fmt.Sprintf("Simulated knowledge base result for query: '%s' in '%s' KB.", query, scope),
				Source:  "simulation",
				Score:   1.0,
			}},
		})
	}

	t.logger.Info("searching knowledge base", "query", query, "kb_type", kbType, "user", t.userID)
	docs, err := t.client.SearchKnowledge(ctx, backend.SearchRequest{
		Query:             query,
		UserID:            t.userID,
		KnowledgeBaseType: kbType,
	})
	if err != nil {
		t.logger.Warn("knowledge search failed", "query", query, "error", err)
		b, _ := json.Marshal(map[string]any{
			"error":   fmt.Sprintf("search failed: %v", err),
			"results": []searchResult{},
		})
		return string(b)
	}

	if len(docs) == 0 {
		return marshal(searchResponse{
			Message: fmt.Sprintf("No results found for query: '%s'", query),
			Results: []searchResult{},
		})
	}

	results := make([]searchResult, 0, len(docs))
	for _, d := range docs {
		r := searchResult{
			Title:   d.Title,
			Content: d.Content,
			Source:  unknownSource,
			Score:   d.Similarity,
		}
		if r.Title == "" {
			r.Title = untitledDocument
		}
		if src, ok := d.Metadata["source"].(string); ok && src != "" {
			r.Source = src
		}
		results = append(results, r)
	}
	return marshal(searchResponse{
		Message: fmt.Sprintf("Found %d relevant documents.", len(results)),
		Results: results,
	})
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ErrorPayload(fmt.Sprintf("encode result: %v", err))
	}
	return string(b)
}
