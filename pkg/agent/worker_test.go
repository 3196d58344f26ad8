package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startDispatcher accepts one worker, records its registration, and
// sends the given frames.
func startDispatcher(t *testing.T, reg chan<- registration, frames []any) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var got registration
		if err := conn.ReadJSON(&got); err != nil {
			t.Errorf("read registration: %v", err)
			return
		}
		reg <- got

		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		// Keep the connection open until the worker drops it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWorkerRegistersAndRunsJobs(t *testing.T) {
	reg := make(chan registration, 1)
	frames := []any{
		map[string]any{"type": "job", "job": map[string]any{
			"id":                   "job-1",
			"room_name":            "room-1",
			"participant_identity": "maya",
		}},
	}
	srv := startDispatcher(t, reg, frames)
	defer srv.Close()

	jobs := make(chan Job, 1)
	w, err := NewWorker(WorkerOptions{
		DispatchURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		AgentName:   "jarvis",
		Handler: func(ctx context.Context, job Job) error {
			jobs <- job
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	select {
	case got := <-reg:
		if got.Type != "register" || got.AgentName != "jarvis" || got.WorkerID != w.ID() {
			t.Errorf("registration = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker never registered")
	}

	select {
	case job := <-jobs:
		if job.ID != "job-1" || job.RoomName != "room-1" || job.ParticipantIdentity != "maya" {
			t.Errorf("job = %+v", job)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorkerSurvivesHandlerPanic(t *testing.T) {
	reg := make(chan registration, 1)
	frames := []any{
		map[string]any{"type": "job", "job": map[string]any{"id": "boom"}},
		map[string]any{"type": "job", "job": map[string]any{"id": "ok"}},
	}
	srv := startDispatcher(t, reg, frames)
	defer srv.Close()

	var mu sync.Mutex
	var handled []string
	w, err := NewWorker(WorkerOptions{
		DispatchURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Handler: func(ctx context.Context, job Job) error {
			mu.Lock()
			handled = append(handled, job.ID)
			mu.Unlock()
			if job.ID == "boom" {
				panic("job exploded")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	<-reg

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(handled)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("handled = %v", handled)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewWorkerValidation(t *testing.T) {
	if _, err := NewWorker(WorkerOptions{Handler: func(context.Context, Job) error { return nil }}); err == nil {
		t.Error("expected error without dispatch URL")
	}
	if _, err := NewWorker(WorkerOptions{DispatchURL: "ws://x"}); err == nil {
		t.Error("expected error without handler")
	}
}
