package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Lifecycle event types delivered to the agent event webhook.
const (
	EventAgentJoin  = "agent_join"
	EventAgentLeave = "agent_leave"
)

// Notifier posts agent lifecycle events to a webhook. Delivery is
// best-effort telemetry: failures are logged and never returned, and an
// unconfigured notifier is a no-op.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNotifier creates a notifier for the given webhook URL. An empty
// URL disables delivery.
func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: strings.TrimSpace(webhookURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// NewNotifierWithHTTP creates a notifier with a custom HTTP client.
func NewNotifierWithHTTP(webhookURL string, httpClient *http.Client, logger *slog.Logger) *Notifier {
	n := NewNotifier(webhookURL, logger)
	if httpClient != nil {
		n.httpClient = httpClient
	}
	return n
}

// Enabled reports whether a webhook destination is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

type agentEvent struct {
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id"`
	Timestamp int64  `json:"timestamp"`
}

// Notify delivers one lifecycle event. It never returns an error;
// delivery problems are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, eventType, userID, roomID string) {
	if !n.Enabled() {
		return
	}

	payload, err := json.Marshal(agentEvent{
		EventType: eventType,
		UserID:    userID,
		RoomID:    roomID,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		n.logger.Error("encode agent event", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.Error("create agent event request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error("send agent event webhook", "event_type", eventType, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Error("agent event webhook rejected", "event_type", eventType, "status", resp.StatusCode)
	}
}
