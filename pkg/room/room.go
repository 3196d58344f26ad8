// Package room is the agent's connection to a media room. Text frames
// carry JSON on the data channel; binary frames carry audio.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a live room connection.
type Conn struct {
	roomName string
	identity string

	ws     *websocket.Conn
	logger *slog.Logger

	data  chan []byte
	audio chan []byte
	done  chan struct{}

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// DialOptions configure a room connection.
type DialOptions struct {
	// URL is the room server WebSocket endpoint.
	URL string
	// Token authenticates the participant.
	Token string
	// RoomName and Identity name the room and the joining participant.
	RoomName string
	Identity string
	Logger   *slog.Logger
}

// Dial joins a room.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("room: URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	if opts.RoomName != "" {
		header.Set("X-Room-Name", opts.RoomName)
	}
	if opts.Identity != "" {
		header.Set("X-Participant-Identity", opts.Identity)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("room: connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("room: connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("room: connect: %w", err)
	}

	c := &Conn{
		roomName: opts.RoomName,
		identity: opts.Identity,
		ws:       ws,
		logger:   logger,
		data:     make(chan []byte, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Name returns the room name.
func (c *Conn) Name() string { return c.roomName }

// Identity returns the local participant identity.
func (c *Conn) Identity() string { return c.identity }

func (c *Conn) readLoop() {
	defer func() {
		close(c.data)
		close(c.audio)
		close(c.done)
	}()

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("room read failed", "room", c.roomName, "error", err)
			}
			return
		}
		switch kind {
		case websocket.TextMessage:
			select {
			case c.data <- payload:
			default:
				c.logger.Warn("dropping data message, receiver too slow", "room", c.roomName)
			}
		case websocket.BinaryMessage:
			select {
			case c.audio <- payload:
			default:
				// Dropped audio is preferable to unbounded buffering.
			}
		}
	}
}

// Data returns the channel of inbound data-channel payloads.
func (c *Conn) Data() <-chan []byte { return c.data }

// Audio returns the channel of inbound audio frames.
func (c *Conn) Audio() <-chan []byte { return c.audio }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// SendData marshals v and publishes it on the data channel.
func (c *Conn) SendData(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("room: connection closed")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("room: marshal data: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// WriteAudio publishes one audio frame. Satisfies the synthesis sink.
func (c *Conn) WriteAudio(data []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("room: connection closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Close leaves the room.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
