package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider implements Provider over Deepgram's live
// transcription WebSocket.
type DeepgramProvider struct {
	apiKey  string
	baseURL string
}

// DeepgramOption configures a DeepgramProvider.
type DeepgramOption func(*DeepgramProvider)

// WithDeepgramURL overrides the WebSocket endpoint, used by tests.
func WithDeepgramURL(url string) DeepgramOption {
	return func(p *DeepgramProvider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *DeepgramProvider {
	p := &DeepgramProvider{apiKey: apiKey, baseURL: deepgramWSURL}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// NewStream opens a live transcription session. Audio is sent as
// binary frames; results arrive as JSON text frames.
func (p *DeepgramProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = "nova-2"
	}
	q.Set("model", model)

	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	q.Set("encoding", encoding)

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))

	// Interim results keep the conversation responsive; the session
	// loop only acts on finals.
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:   conn,
		events: make(chan TranscriptEvent, 100),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	go s.readLoop()

	return s, nil
}

type deepgramStream struct {
	conn    *websocket.Conn
	events  chan TranscriptEvent
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// deepgramResult is the subset of Deepgram's Results message we use.
type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (s *deepgramStream) readLoop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.deliver(TranscriptEvent{Kind: KindError, Err: fmt.Errorf("websocket read: %w", err)})
			return
		}

		var msg deepgramResult
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			ev := TranscriptEvent{
				Kind:       KindInterim,
				Text:       alt.Transcript,
				Confidence: alt.Confidence,
			}
			if msg.IsFinal {
				ev.Kind = KindFinal
			}
			if !s.deliver(ev) {
				return
			}

		case "Error":
			reason := msg.Description
			if reason == "" {
				reason = msg.Message
			}
			s.deliver(TranscriptEvent{Kind: KindError, Err: fmt.Errorf("deepgram: %s", reason)})
			return

		case "Metadata":
			continue
		}
	}
}

func (s *deepgramStream) deliver(ev TranscriptEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// SendAudio forwards raw audio to the recognizer.
func (s *deepgramStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Transcripts returns the channel of recognition events.
func (s *deepgramStream) Transcripts() <-chan TranscriptEvent {
	return s.events
}

// Done is closed when the session ends.
func (s *deepgramStream) Done() <-chan struct{} {
	return s.done
}

// Close ends the session gracefully.
func (s *deepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	// CloseStream tells Deepgram to flush and finish.
	s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
