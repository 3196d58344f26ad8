// The jarvis-worker command registers with the job dispatcher and runs
// one voice-agent session per dispatched participant.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/optiflow/voiceagent/pkg/agent"
	"github.com/optiflow/voiceagent/pkg/backend"
	"github.com/optiflow/voiceagent/pkg/config"
	"github.com/optiflow/voiceagent/pkg/llm"
	"github.com/optiflow/voiceagent/pkg/room"
	"github.com/optiflow/voiceagent/pkg/tools"
	"github.com/optiflow/voiceagent/pkg/voice/stt"
	"github.com/optiflow/voiceagent/pkg/voice/tts"
)

func buildModel(cfg config.WorkerConfig, logger *slog.Logger) llm.Client {
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, using no-op model")
		return &llm.NoOpClient{}
	}
	return llm.NewOpenAIClient(cfg.OpenAIAPIKey, logger, llm.WithModel(cfg.OpenAIModel))
}

func buildSTT(cfg config.WorkerConfig, logger *slog.Logger) stt.Provider {
	if cfg.DeepgramAPIKey == "" {
		logger.Warn("DEEPGRAM_API_KEY not set, using no-op recognizer")
		return stt.NoOpProvider{}
	}
	return stt.NewDeepgram(cfg.DeepgramAPIKey)
}

func buildSpeaker(cfg config.WorkerConfig, sink tts.AudioSink, logger *slog.Logger) tts.Speaker {
	if cfg.ElevenLabsAPIKey == "" {
		logger.Warn("ELEVENLABS_API_KEY not set, using no-op speaker")
		return tts.NoOpSpeaker{}
	}
	return tts.NewElevenLabs(cfg.ElevenLabsAPIKey, sink, tts.WithVoice(cfg.ElevenLabsVoice))
}

func runWorker(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendAPIKey)
	notifier := backend.NewNotifier(cfg.WebhookURL, logger)
	model := buildModel(cfg, logger)
	recognizer := buildSTT(cfg, logger)

	handler := func(ctx context.Context, job agent.Job) error {
		conn, err := room.Dial(ctx, room.DialOptions{
			URL:      job.RoomURL,
			Token:    job.Token,
			RoomName: job.RoomName,
			Identity: cfg.AgentName,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		defer conn.Close()

		speaker := buildSpeaker(cfg, conn, logger)

		sttStream, err := recognizer.NewStream(ctx, stt.StreamOptions{})
		if err != nil {
			return fmt.Errorf("open recognition stream: %w", err)
		}
		defer sttStream.Close()

		// Relay inbound room audio into the recognizer.
		go func() {
			for frame := range conn.Audio() {
				if err := sttStream.SendAudio(frame); err != nil {
					return
				}
			}
		}()

		registry := tools.NewRegistry(logger)
		registry.Register(tools.NewPipedreamAction(backendClient, job.ParticipantIdentity, logger))
		registry.Register(tools.NewKnowledgeLookup(backendClient, job.ParticipantIdentity, logger))

		var watchdog *agent.Watchdog
		if job.ParticipantIdentity != "" && job.RoomName != "" && backendClient.Configured() {
			watchdog = agent.NewWatchdog(backendClient, job.ParticipantIdentity, logger,
				agent.WithPollInterval(cfg.PresencePollInterval),
				agent.WithInactivityLimit(cfg.InactivityLimit))
		}

		session := agent.NewSession(agent.SessionConfig{
			UserID:   job.ParticipantIdentity,
			RoomID:   job.RoomName,
			Model:    model,
			Tools:    registry,
			Speaker:  speaker,
			Data:     conn,
			Notifier: notifier,
			Watchdog: watchdog,
			Logger:   logger,
		})

		agent.Serve(ctx, session, sttStream.Transcripts())
		return nil
	}

	worker, err := agent.NewWorker(agent.WorkerOptions{
		DispatchURL: cfg.DispatchURL,
		Token:       cfg.DispatchToken,
		AgentName:   cfg.AgentName,
		Handler:     handler,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting worker", "agent", cfg.AgentName, "dispatch_url", cfg.DispatchURL)
	return worker.Run(ctx)
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	// Missing .env is fine; environment variables still apply.
	godotenv.Load()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWorker(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "jarvis-worker: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
