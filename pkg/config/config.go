// Package config loads worker and token-service configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// WorkerConfig configures the voice-agent worker process.
type WorkerConfig struct {
	// DispatchURL is the job dispatcher's WebSocket endpoint.
	DispatchURL string
	// DispatchToken authenticates the worker with the dispatcher.
	DispatchToken string
	AgentName     string

	// Provider credentials. Missing credentials select the no-op
	// implementation for that capability.
	OpenAIAPIKey     string
	OpenAIModel      string
	DeepgramAPIKey   string
	ElevenLabsAPIKey string
	ElevenLabsVoice  string

	// Optiflow backend for tools and presence checks.
	BackendURL    string
	BackendAPIKey string
	// WebhookURL receives agent_join/agent_leave events; empty disables.
	WebhookURL string

	PresencePollInterval time.Duration
	InactivityLimit      time.Duration
}

// LoadWorkerFromEnv reads worker configuration from the environment.
func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DispatchURL:          strings.TrimSpace(os.Getenv("AGENT_DISPATCH_URL")),
		DispatchToken:        strings.TrimSpace(os.Getenv("AGENT_DISPATCH_TOKEN")),
		AgentName:            envOr("AGENT_NAME", "jarvis"),
		OpenAIAPIKey:         strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:          envOr("OPENAI_MODEL", ""),
		DeepgramAPIKey:       strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
		ElevenLabsAPIKey:     strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsVoice:      envOr("ELEVENLABS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		BackendURL:           strings.TrimSpace(os.Getenv("OPTIFLOW_BACKEND_URL")),
		BackendAPIKey:        strings.TrimSpace(os.Getenv("OPTIFLOW_BACKEND_API_KEY")),
		WebhookURL:           strings.TrimSpace(os.Getenv("AGENT_EVENT_WEBHOOK_URL")),
		PresencePollInterval: envDurationOr("AGENT_PRESENCE_POLL_INTERVAL", 30*time.Second),
		InactivityLimit:      envDurationOr("AGENT_INACTIVITY_LIMIT", 10*time.Minute),
	}

	if cfg.DispatchURL == "" {
		return WorkerConfig{}, fmt.Errorf("AGENT_DISPATCH_URL must be set")
	}
	if cfg.PresencePollInterval <= 0 {
		return WorkerConfig{}, fmt.Errorf("AGENT_PRESENCE_POLL_INTERVAL must be > 0")
	}
	if cfg.InactivityLimit <= 0 {
		return WorkerConfig{}, fmt.Errorf("AGENT_INACTIVITY_LIMIT must be > 0")
	}

	return cfg, nil
}

// TokenServiceConfig configures the companion token service.
type TokenServiceConfig struct {
	Addr string

	// ServerURL is handed to clients so they know where to connect.
	ServerURL string

	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadTokenServiceFromEnv reads token-service configuration from the
// environment.
func LoadTokenServiceFromEnv() (TokenServiceConfig, error) {
	port := envIntOr("PORT", 8000)
	cfg := TokenServiceConfig{
		Addr:                envOr("TOKEN_SERVICE_ADDR", fmt.Sprintf(":%d", port)),
		ServerURL:           envOr("LIVEKIT_URL", "wss://example.livekit.cloud"),
		CORSAllowOrigins:    splitCSV(envOr("CORS_ALLOW_ORIGIN", "https://app.isyncso.com,http://localhost:3000")),
		CORSAllowMethods:    splitCSV(envOr("CORS_ALLOW_METHODS", "GET,POST,OPTIONS")),
		CORSAllowHeaders:    splitCSV(envOr("CORS_ALLOW_HEADERS", "Content-Type,Authorization")),
		ReadHeaderTimeout:   envDurationOr("TOKEN_SERVICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("TOKEN_SERVICE_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	if len(cfg.CORSAllowOrigins) == 0 {
		return TokenServiceConfig{}, fmt.Errorf("CORS_ALLOW_ORIGIN must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return TokenServiceConfig{}, fmt.Errorf("TOKEN_SERVICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return TokenServiceConfig{}, fmt.Errorf("TOKEN_SERVICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
