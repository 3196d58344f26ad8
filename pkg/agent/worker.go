package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/optiflow/voiceagent/pkg/voice/stt"
)

const internalErrorMessage = "An internal error occurred with the agent."
const internalErrorApology = "I'm sorry, but I've encountered an internal error. Please try reconnecting."

// Job is one dispatch: serve a participant in a room.
type Job struct {
	ID                  string            `json:"id"`
	RoomName            string            `json:"room_name"`
	RoomURL             string            `json:"room_url"`
	Token               string            `json:"token"`
	ParticipantIdentity string            `json:"participant_identity"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// JobHandler serves one job. It is called on its own goroutine; a
// returned error or a panic terminates only that job.
type JobHandler func(ctx context.Context, job Job) error

// WorkerOptions configure a Worker.
type WorkerOptions struct {
	// DispatchURL is the WebSocket endpoint that hands out jobs.
	DispatchURL string
	// Token authenticates the worker with the dispatcher.
	Token string
	// AgentName identifies this worker in its registration.
	AgentName string
	Handler   JobHandler
	Logger    *slog.Logger
}

// Worker registers with a dispatcher and runs one JobHandler per
// received job. Jobs run concurrently and independently; a failed job
// is never retried.
type Worker struct {
	opts   WorkerOptions
	logger *slog.Logger
	id     string
	wg     sync.WaitGroup
}

// NewWorker validates options and builds a worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.DispatchURL == "" {
		return nil, fmt.Errorf("agent: dispatch URL is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("agent: job handler is required")
	}
	if opts.AgentName == "" {
		opts.AgentName = "voice-agent"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		opts:   opts,
		logger: logger,
		id:     uuid.NewString(),
	}, nil
}

// ID returns the worker's instance identifier.
func (w *Worker) ID() string { return w.id }

// registration is the first frame sent after connecting.
type registration struct {
	Type      string `json:"type"`
	WorkerID  string `json:"worker_id"`
	AgentName string `json:"agent_name"`
}

// dispatchMessage is one inbound frame from the dispatcher.
type dispatchMessage struct {
	Type string `json:"type"`
	Job  *Job   `json:"job,omitempty"`
}

// Run connects to the dispatcher and serves jobs until ctx is
// cancelled or the connection drops. It waits for in-flight jobs
// before returning.
func (w *Worker) Run(ctx context.Context) error {
	header := http.Header{}
	if w.opts.Token != "" {
		header.Set("Authorization", "Bearer "+w.opts.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, w.opts.DispatchURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return fmt.Errorf("agent: dispatcher connect (status %d): %s", resp.StatusCode, string(body))
			}
		}
		return fmt.Errorf("agent: dispatcher connect: %w", err)
	}
	defer conn.Close()

	reg := registration{Type: "register", WorkerID: w.id, AgentName: w.opts.AgentName}
	if err := conn.WriteJSON(reg); err != nil {
		return fmt.Errorf("agent: register worker: %w", err)
	}
	w.logger.Info("worker registered", "worker_id", w.id, "agent", w.opts.AgentName)

	// Unblock ReadMessage on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	defer w.wg.Wait()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("agent: dispatcher read: %w", err)
		}

		var msg dispatchMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Warn("ignoring malformed dispatch frame", "error", err)
			continue
		}

		switch msg.Type {
		case "job":
			if msg.Job == nil {
				w.logger.Warn("job frame without job payload")
				continue
			}
			job := *msg.Job
			if job.ID == "" {
				job.ID = uuid.NewString()
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.runJob(ctx, job)
			}()
		case "ping":
			conn.WriteJSON(map[string]string{"type": "pong"})
		default:
			w.logger.Debug("ignoring dispatch frame", "type", msg.Type)
		}
	}
}

// runJob is the job-processing boundary: panics and handler errors are
// logged here and never take the worker down.
func (w *Worker) runJob(ctx context.Context, job Job) {
	logger := w.logger.With("job", job.ID, "room", job.RoomName, "participant", job.ParticipantIdentity)
	logger.Info("processing job")
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", "panic", rec)
		}
		logger.Info("job finished", "duration", time.Since(start))
	}()

	if err := w.opts.Handler(ctx, job); err != nil {
		logger.Error("job failed", "error", err)
	}
}

// Serve runs a session with the per-job error boundary: any error or
// panic escaping the loop is reported to the client as a generic error
// event plus a spoken apology, and the job ends without retry.
func Serve(ctx context.Context, s *Session, transcripts <-chan stt.TranscriptEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("session panicked", "panic", rec)
			s.reportInternalError(ctx)
		}
	}()

	if err := s.Run(ctx, transcripts); err != nil {
		s.logger.Error("session loop failed", "error", err)
		s.reportInternalError(ctx)
	}
}

func (s *Session) reportInternalError(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("failed to report error to client", "panic", rec)
		}
	}()
	s.sendEvent(NewError(internalErrorMessage))
	s.speak(ctx, internalErrorApology)
}
