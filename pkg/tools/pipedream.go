package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/optiflow/voiceagent/pkg/backend"
)

// PipedreamAction executes a named automation through the Optiflow
// backend's Pipedream bridge. The backend's response body is handed to
// the model verbatim so the workflow controls its own result format.
type PipedreamAction struct {
	client   *backend.Client
	identity string
	logger   *slog.Logger
}

// NewPipedreamAction binds the tool to a backend client and the user
// identity the actions run as.
func NewPipedreamAction(client *backend.Client, identity string, logger *slog.Logger) *PipedreamAction {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipedreamAction{client: client, identity: identity, logger: logger}
}

func (t *PipedreamAction) Name() string { return "execute_pipedream_action" }

func (t *PipedreamAction) Description() string {
	return "Execute an automation action on the user's connected services, such as sending an email, creating a calendar event, or posting a message."
}

func (t *PipedreamAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action_type": map[string]any{
				"type":        "string",
				"description": "The action to perform, e.g. send_email or create_calendar_event.",
			},
			"parameters": map[string]any{
				"type":        "object",
				"description": "Action-specific parameters.",
			},
		},
		"required": []string{"action_type"},
	}
}

func (t *PipedreamAction) Invoke(ctx context.Context, input map[string]any) string {
	actionType := stringArg(input, "action_type")
	if actionType == "" {
		return ErrorPayload("action_type is required")
	}
	if t.identity == "" {
		return ErrorPayload("cannot execute action: user identity is unknown")
	}
	params := mapArg(input, "parameters")
	if params == nil {
		params = map[string]any{}
	}

	t.logger.Info("executing pipedream action", "action_type", actionType, "user", t.identity)
	body, err := t.client.ExecuteAction(ctx, backend.ActionRequest{
		ActionType:   actionType,
		Parameters:   params,
		UserIdentity: t.identity,
	})
	if err != nil {
		t.logger.Warn("pipedream action failed", "action_type", actionType, "error", err)
		return ErrorPayload(fmt.Sprintf("failed to execute %s: %v", actionType, err))
	}
	return body
}
