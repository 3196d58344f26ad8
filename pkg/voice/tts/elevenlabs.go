package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const elevenLabsWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsSpeaker synthesizes speech over ElevenLabs' stream-input
// WebSocket and writes the audio to a sink.
type ElevenLabsSpeaker struct {
	apiKey    string
	voiceID   string
	modelID   string
	wsBaseURL string
	sink      AudioSink
}

// ElevenLabsOption configures an ElevenLabsSpeaker.
type ElevenLabsOption func(*ElevenLabsSpeaker)

// WithVoice selects the voice.
func WithVoice(voiceID string) ElevenLabsOption {
	return func(s *ElevenLabsSpeaker) {
		if voiceID != "" {
			s.voiceID = voiceID
		}
	}
}

// WithModel selects the synthesis model.
func WithModel(modelID string) ElevenLabsOption {
	return func(s *ElevenLabsSpeaker) {
		if modelID != "" {
			s.modelID = modelID
		}
	}
}

// WithWSBaseURL overrides the WebSocket endpoint, used by tests.
func WithWSBaseURL(base string) ElevenLabsOption {
	return func(s *ElevenLabsSpeaker) {
		if base != "" {
			s.wsBaseURL = base
		}
	}
}

// NewElevenLabs creates a speaker that writes audio to sink.
func NewElevenLabs(apiKey string, sink AudioSink, opts ...ElevenLabsOption) *ElevenLabsSpeaker {
	if sink == nil {
		sink = DiscardSink
	}
	s := &ElevenLabsSpeaker{
		apiKey:    strings.TrimSpace(apiKey),
		voiceID:   "21m00Tcm4TlvDq8ikWAM",
		modelID:   "eleven_flash_v2_5",
		wsBaseURL: elevenLabsWSBase,
		sink:      sink,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ElevenLabsSpeaker) Name() string { return "elevenlabs" }

// Speak synthesizes one utterance and blocks until all of its audio
// reached the sink.
func (s *ElevenLabsSpeaker) Speak(ctx context.Context, text string) error {
	stream, err := s.NewStream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Push(text); err != nil {
		return err
	}
	return stream.EndSegment(ctx)
}

// NewStream opens a stream-input session.
func (s *ElevenLabsSpeaker) NewStream(ctx context.Context) (SpeechStream, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}

	wsURL, err := s.buildWSURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", s.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	st := &elevenLabsStream{
		conn:    conn,
		sink:    s.sink,
		flushed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	// A leading space opens the synthesis context.
	if err := st.writeJSON(map[string]any{
		"text":     " ",
		"voice_id": s.voiceID,
	}); err != nil {
		conn.Close()
		return nil, err
	}

	go st.readLoop()

	return st, nil
}

func (s *ElevenLabsSpeaker) buildWSURL() (string, error) {
	base := strings.ReplaceAll(s.wsBaseURL, "{voice_id}", url.PathEscape(s.voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		q.Set("model_id", s.modelID)
	}
	if q.Get("output_format") == "" {
		q.Set("output_format", "pcm_24000")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type elevenLabsStream struct {
	conn      *websocket.Conn
	sink      AudioSink
	writeMu   sync.Mutex
	flushed   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (st *elevenLabsStream) writeJSON(v any) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	st.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return st.conn.WriteJSON(v)
}

// Push appends text to the open segment.
func (st *elevenLabsStream) Push(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return st.writeJSON(map[string]any{"text": text + " "})
}

// EndSegment flushes buffered text and waits until the provider
// reports the segment's audio complete.
func (st *elevenLabsStream) EndSegment(ctx context.Context) error {
	if err := st.writeJSON(map[string]any{"text": "", "flush": true}); err != nil {
		return err
	}
	select {
	case <-st.flushed:
		return st.lastErr()
	case <-st.done:
		return st.lastErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type elevenLabsMessage struct {
	Audio   string `json:"audio"`
	IsFinal *bool  `json:"isFinal"`
	Error   string `json:"error"`
}

func (st *elevenLabsStream) readLoop() {
	defer close(st.done)
	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				st.setErr(fmt.Errorf("websocket read: %w", err))
			}
			return
		}

		var msg elevenLabsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			st.setErr(fmt.Errorf("elevenlabs: %s", msg.Error))
			return
		}
		if msg.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err == nil && len(audio) > 0 {
				if err := st.sink.WriteAudio(audio); err != nil {
					st.setErr(fmt.Errorf("write audio: %w", err))
					return
				}
			}
		}
		if msg.IsFinal != nil && *msg.IsFinal {
			select {
			case st.flushed <- struct{}{}:
			default:
			}
		}
	}
}

func (st *elevenLabsStream) setErr(err error) {
	st.errMu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.errMu.Unlock()
}

func (st *elevenLabsStream) lastErr() error {
	st.errMu.Lock()
	defer st.errMu.Unlock()
	return st.err
}

// Close ends the session.
func (st *elevenLabsStream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		st.writeJSON(map[string]any{"text": ""})
		st.writeMu.Lock()
		st.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		st.writeMu.Unlock()
		err = st.conn.Close()
	})
	return err
}
