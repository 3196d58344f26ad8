package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/optiflow/voiceagent/pkg/llm"
	"github.com/optiflow/voiceagent/pkg/voice"
	"github.com/optiflow/voiceagent/pkg/voice/stt"
	"github.com/optiflow/voiceagent/pkg/voice/tts"
)

const defaultSystemPrompt = "You are Jarvis, a highly capable AI assistant for Optiflow. " +
	"Your primary user is an Optiflow user who is using your voice interface. " +
	"You can understand voice commands, execute tasks using available tools " +
	"(like Pipedream for external actions and a knowledge base for information retrieval), " +
	"and respond in a helpful, concise, and professional manner. " +
	"When a tool is used, summarize the outcome for the user. " +
	"If you need clarification, ask the user. " +
	"Always confirm actions before execution if they are irreversible or sensitive. " +
	"Keep your responses conversational but efficient."

const defaultWelcome = "Hello, I'm Jarvis, your voice assistant for Optiflow. How can I help you today?"

const (
	recognitionApology = "I'm having trouble understanding you. Could you try again?"
	goodbyeUtterance   = "I'll be here when you return. Goodbye!"
)

// DataSender publishes JSON payloads on the session's client data
// channel.
type DataSender interface {
	SendData(v any) error
}

// LifecycleNotifier receives best-effort join/leave notifications.
type LifecycleNotifier interface {
	Notify(ctx context.Context, eventType, userID, roomID string)
}

// SessionConfig wires one session's collaborators.
type SessionConfig struct {
	UserID string
	RoomID string

	// SystemPrompt and Welcome default to the Jarvis persona.
	SystemPrompt string
	Welcome      string

	// MinChunkWords tunes how many words accumulate before a reply
	// fragment is handed to synthesis. Zero keeps the default.
	MinChunkWords int

	Model    llm.Client
	Tools    llm.ToolRegistry
	Speaker  tts.Speaker
	Data     DataSender
	Notifier LifecycleNotifier
	Watchdog *Watchdog

	Logger *slog.Logger
}

// Session drives one conversation for one connected participant from
// join to leave. History is owned exclusively by the session; there is
// no concurrent mutation.
type Session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	history []llm.ChatMessage

	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

// NewSession builds a session. Run starts it.
func NewSession(cfg SessionConfig) *Session {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Welcome == "" {
		cfg.Welcome = defaultWelcome
	}
	if cfg.Speaker == nil {
		cfg.Speaker = tts.NoOpSpeaker{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", cfg.RoomID, "user", cfg.UserID)
	return &Session{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Done is closed when the session has fully ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session. Safe to call from the watchdog or any other
// goroutine; closing an already-closed session is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Run consumes the transcript stream until it ends, the recognizer
// fails, or the session is closed. It always emits agent_leave on the
// way out.
func (s *Session) Run(ctx context.Context, transcripts <-chan stt.TranscriptEvent) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	defer close(s.done)

	joinedAt := time.Now()
	s.logger.Info("agent joining room")
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Notify(ctx, "agent_join", s.cfg.UserID, s.cfg.RoomID)
	}

	s.history = append(s.history, llm.ChatMessage{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})

	if err := s.cfg.Speaker.Speak(ctx, s.cfg.Welcome); err != nil {
		s.logger.Warn("welcome synthesis failed", "error", err)
	}
	s.sendEvent(NewAgentTranscript(s.cfg.Welcome))

	var watchdogDone <-chan struct{}
	if s.cfg.Watchdog != nil {
		watchdogDone = s.cfg.Watchdog.Start(ctx, s)
	}

	defer func() {
		cancel()
		if watchdogDone != nil {
			<-watchdogDone
		}
		s.logger.Info("agent leaving room", "session_duration", time.Since(joinedAt))
		if s.cfg.Notifier != nil {
			// The run context is gone; the leave notification gets its
			// own short deadline.
			nctx, ncancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer ncancel()
			s.cfg.Notifier.Notify(nctx, "agent_leave", s.cfg.UserID, s.cfg.RoomID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-transcripts:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case stt.KindFinal:
				text := strings.TrimSpace(ev.Text)
				if text == "" {
					continue
				}
				if err := s.turn(ctx, text); err != nil {
					// A Close while a turn is in flight cancels the
					// run context; that is a normal exit, not a model
					// failure.
					if errors.Is(err, context.Canceled) && ctx.Err() != nil {
						return nil
					}
					return err
				}
			case stt.KindError:
				s.logger.Error("speech recognition error", "error", ev.Err)
				s.sendEvent(NewError(fmt.Sprintf("Speech recognition error: %v", ev.Err)))
				if err := s.cfg.Speaker.Speak(ctx, recognitionApology); err != nil {
					s.logger.Warn("apology synthesis failed", "error", err)
				}
				return nil
			default:
				// Interim results are ignored.
			}
		}
	}
}

// turn runs one user utterance through the model and speaks the reply.
func (s *Session) turn(ctx context.Context, userText string) error {
	s.logger.Info("user said", "transcript", userText)
	s.sendEvent(NewUserTranscript(userText))

	s.history = append(s.history, llm.ChatMessage{Role: llm.RoleUser, Content: userText})

	stream, err := s.cfg.Model.Chat(ctx, s.history, s.cfg.Tools)
	if err != nil {
		return fmt.Errorf("model call: %w", err)
	}

	speech, err := s.cfg.Speaker.NewStream(ctx)
	if err != nil {
		return fmt.Errorf("open speech stream: %w", err)
	}
	defer speech.Close()

	buf := voice.NewSentenceBuffer(voice.WithMinWords(s.cfg.MinChunkWords))
	var response strings.Builder
	for chunk := range stream.Chunks() {
		response.WriteString(chunk)
		if piece := buf.Add(chunk); piece != "" {
			if err := speech.Push(piece); err != nil {
				s.logger.Warn("speech push failed", "error", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("model stream: %w", err)
	}
	if piece := buf.Flush(); piece != "" {
		if err := speech.Push(piece); err != nil {
			s.logger.Warn("speech push failed", "error", err)
		}
	}
	if err := speech.EndSegment(ctx); err != nil {
		s.logger.Warn("speech segment end failed", "error", err)
	}

	full := response.String()
	s.history = append(s.history, llm.ChatMessage{Role: llm.RoleAssistant, Content: full})
	s.sendEvent(NewAgentTranscript(full))
	s.logger.Info("agent responded", "transcript", full)
	return nil
}

// speak synthesizes one utterance, used by the watchdog on timeout.
func (s *Session) speak(ctx context.Context, text string) {
	if err := s.cfg.Speaker.Speak(ctx, text); err != nil {
		s.logger.Warn("synthesis failed", "error", err)
	}
}

// sendEvent publishes one event on the data channel, best effort.
func (s *Session) sendEvent(ev Event) {
	if s.cfg.Data == nil {
		return
	}
	if err := s.cfg.Data.SendData(ev); err != nil {
		s.logger.Warn("data channel send failed", "event", ev.EventType(), "error", err)
	}
}
