package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/optiflow/voiceagent/pkg/llm"
	"github.com/optiflow/voiceagent/pkg/voice/stt"
	"github.com/optiflow/voiceagent/pkg/voice/tts"
)

// fakeModel replies to every turn with a scripted chunk sequence.
type fakeModel struct {
	mu     sync.Mutex
	chunks []string
	calls  int
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) Chat(ctx context.Context, history []llm.ChatMessage, tools llm.ToolRegistry) (*llm.Stream, error) {
	m.mu.Lock()
	m.calls++
	chunks := append([]string(nil), m.chunks...)
	m.mu.Unlock()

	st := llm.NewStream(len(chunks) + 1)
	go func() {
		for _, c := range chunks {
			if !st.Push(ctx, c) {
				break
			}
		}
		st.Finish(nil)
	}()
	return st, nil
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// stallModel opens a stream that produces nothing until the call
// context is cancelled, then finishes with the cancellation error,
// the way a real provider stream ends when its request is torn down.
type stallModel struct {
	started chan struct{}
}

func (m *stallModel) Name() string { return "stall" }

func (m *stallModel) Chat(ctx context.Context, history []llm.ChatMessage, tools llm.ToolRegistry) (*llm.Stream, error) {
	close(m.started)
	st := llm.NewStream(1)
	go func() {
		<-ctx.Done()
		st.Finish(fmt.Errorf("stream recv: %w", ctx.Err()))
	}()
	return st, nil
}

// panicModel blows up on the first turn.
type panicModel struct{}

func (panicModel) Name() string { return "panic" }
func (panicModel) Chat(context.Context, []llm.ChatMessage, llm.ToolRegistry) (*llm.Stream, error) {
	panic("model exploded")
}

// fakeSpeaker records everything spoken.
type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	pushed []string
}

func (s *fakeSpeaker) Name() string { return "fake" }

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *fakeSpeaker) NewStream(ctx context.Context) (tts.SpeechStream, error) {
	return ttsStream{s}, nil
}

// ttsStream satisfies tts.SpeechStream over the shared recorder.
type ttsStream struct{ s *fakeSpeaker }

func (t ttsStream) Push(text string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.pushed = append(t.s.pushed, text)
	return nil
}
func (t ttsStream) EndSegment(ctx context.Context) error { return nil }
func (t ttsStream) Close() error                         { return nil }

func (s *fakeSpeaker) spokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// fakeSender records data-channel events in order.
type fakeSender struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeSender) SendData(v any) error {
	ev, ok := v.(Event)
	if !ok {
		return errors.New("not an event")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSender) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.EventType()
	}
	return out
}

func (f *fakeSender) at(i int) Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[i]
}

// fakeNotifier records lifecycle notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, eventType, userID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newTestSession(model llm.Client, speaker *fakeSpeaker, sender *fakeSender, notifier *fakeNotifier, wd *Watchdog) *Session {
	return NewSession(SessionConfig{
		UserID:   "user-1",
		RoomID:   "room-1",
		Model:    model,
		Speaker:  speaker,
		Data:     sender,
		Notifier: notifier,
		Watchdog: wd,
	})
}

func runSession(t *testing.T, s *Session, feed func(chan<- stt.TranscriptEvent)) {
	t.Helper()
	transcripts := make(chan stt.TranscriptEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Serve(context.Background(), s, transcripts)
	}()
	feed(transcripts)
	close(transcripts)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSessionTurnOrderingAndHistory(t *testing.T) {
	model := &fakeModel{chunks: []string{"Sure", ", on it", "."}}
	speaker := &fakeSpeaker{}
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	s := newTestSession(model, speaker, sender, notifier, nil)

	runSession(t, s, func(in chan<- stt.TranscriptEvent) {
		in <- stt.TranscriptEvent{Kind: stt.KindFinal, Text: "send the report"}
	})

	types := sender.types()
	// Welcome transcript first, then user before agent for the turn.
	want := []string{"agent_transcript", "user_transcript", "agent_transcript"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}

	agent := sender.at(2).(*AgentTranscriptEvent)
	if agent.Transcript != "Sure, on it." {
		t.Errorf("agent transcript = %q", agent.Transcript)
	}

	// System message plus exactly two per completed turn.
	if len(s.history) != 3 {
		t.Fatalf("history length = %d, want 3", len(s.history))
	}
	if s.history[0].Role != llm.RoleSystem {
		t.Errorf("history[0].Role = %s", s.history[0].Role)
	}
	if s.history[1].Role != llm.RoleUser || s.history[1].Content != "send the report" {
		t.Errorf("history[1] = %+v", s.history[1])
	}
	if s.history[2].Role != llm.RoleAssistant || s.history[2].Content != "Sure, on it." {
		t.Errorf("history[2] = %+v", s.history[2])
	}
}

func TestSessionSkipsEmptyTranscripts(t *testing.T) {
	model := &fakeModel{chunks: []string{"hi"}}
	speaker := &fakeSpeaker{}
	sender := &fakeSender{}
	s := newTestSession(model, speaker, sender, &fakeNotifier{}, nil)

	runSession(t, s, func(in chan<- stt.TranscriptEvent) {
		in <- stt.TranscriptEvent{Kind: stt.KindFinal, Text: ""}
		in <- stt.TranscriptEvent{Kind: stt.KindFinal, Text: "   \n"}
		in <- stt.TranscriptEvent{Kind: stt.KindInterim, Text: "partial thought"}
	})

	if got := model.callCount(); got != 0 {
		t.Errorf("model calls = %d, want 0", got)
	}
	// Only the welcome system message remains.
	if len(s.history) != 1 {
		t.Errorf("history length = %d, want 1", len(s.history))
	}
}

func TestSessionRecognitionError(t *testing.T) {
	model := &fakeModel{}
	speaker := &fakeSpeaker{}
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	s := newTestSession(model, speaker, sender, notifier, nil)

	runSession(t, s, func(in chan<- stt.TranscriptEvent) {
		in <- stt.TranscriptEvent{Kind: stt.KindError, Err: errors.New("mic gone")}
	})

	var errEvents int
	for _, typ := range sender.types() {
		if typ == "error" {
			errEvents++
		}
	}
	if errEvents != 1 {
		t.Errorf("error events = %d, want 1", errEvents)
	}

	spoken := speaker.spokenTexts()
	found := false
	for _, text := range spoken {
		if strings.Contains(text, "trouble understanding") {
			found = true
		}
	}
	if !found {
		t.Errorf("apology not spoken, got %v", spoken)
	}

	events := notifier.all()
	if len(events) != 2 || events[0] != "agent_join" || events[1] != "agent_leave" {
		t.Errorf("lifecycle events = %v, want [agent_join agent_leave]", events)
	}
}

func TestSessionNotifiesJoinAndLeave(t *testing.T) {
	notifier := &fakeNotifier{}
	s := newTestSession(&fakeModel{}, &fakeSpeaker{}, &fakeSender{}, notifier, nil)

	runSession(t, s, func(chan<- stt.TranscriptEvent) {})

	events := notifier.all()
	if len(events) != 2 || events[0] != "agent_join" || events[1] != "agent_leave" {
		t.Errorf("lifecycle events = %v, want [agent_join agent_leave]", events)
	}
}

func TestSessionCloseMidTurnIsAQuietExit(t *testing.T) {
	model := &stallModel{started: make(chan struct{})}
	speaker := &fakeSpeaker{}
	sender := &fakeSender{}
	s := newTestSession(model, speaker, sender, &fakeNotifier{}, nil)

	transcripts := make(chan stt.TranscriptEvent, 1)
	transcripts <- stt.TranscriptEvent{Kind: stt.KindFinal, Text: "are you still there"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		Serve(context.Background(), s, transcripts)
	}()

	<-model.started
	s.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}

	for _, typ := range sender.types() {
		if typ == "error" {
			t.Fatalf("events = %v, closing must not look like a failure", sender.types())
		}
	}
	for _, text := range speaker.spokenTexts() {
		if strings.Contains(text, "internal error") {
			t.Fatalf("spoke %q after a clean close", text)
		}
	}
}

func TestServeReportsInternalError(t *testing.T) {
	speaker := &fakeSpeaker{}
	sender := &fakeSender{}
	s := newTestSession(panicModel{}, speaker, sender, &fakeNotifier{}, nil)

	runSession(t, s, func(in chan<- stt.TranscriptEvent) {
		in <- stt.TranscriptEvent{Kind: stt.KindFinal, Text: "boom"}
	})

	var sawError bool
	for _, typ := range sender.types() {
		if typ == "error" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event after panic")
	}

	var sawApology bool
	for _, text := range speaker.spokenTexts() {
		if strings.Contains(text, "internal error") {
			sawApology = true
		}
	}
	if !sawApology {
		t.Error("expected a spoken apology after panic")
	}
}
