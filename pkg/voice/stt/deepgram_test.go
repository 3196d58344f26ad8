package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramStreamDeliversTranscripts(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Errorf("auth = %q", got)
		}
		if got := r.URL.Query().Get("interim_results"); got != "true" {
			t.Errorf("interim_results = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Wait for one audio frame, then reply with an interim and a
		// final result.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel","confidence":0.4}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.97}]}}`))

		// Hold the connection until the client closes it.
		conn.ReadMessage()
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramURL(wsURL(srv)))
	stream, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	if err := stream.SendAudio([]byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	var events []TranscriptEvent
	timeout := time.After(5 * time.Second)
	for len(events) < 2 {
		select {
		case ev, ok := <-stream.Transcripts():
			if !ok {
				t.Fatalf("stream ended early, events = %v", events)
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out, events = %v", events)
		}
	}

	if events[0].Kind != KindInterim || events[0].Text != "hel" {
		t.Errorf("interim = %+v", events[0])
	}
	if events[1].Kind != KindFinal || events[1].Text != "hello there" {
		t.Errorf("final = %+v", events[1])
	}
	if events[1].Confidence != 0.97 {
		t.Errorf("confidence = %v", events[1].Confidence)
	}
}

func TestDeepgramStreamErrorEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"bad audio encoding"}`))
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramURL(wsURL(srv)))
	stream, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	select {
	case ev := <-stream.Transcripts():
		if ev.Kind != KindError {
			t.Fatalf("event = %+v, want error", ev)
		}
		if ev.Err == nil || !strings.Contains(ev.Err.Error(), "bad audio encoding") {
			t.Errorf("err = %v", ev.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no error event")
	}
}

func TestDeepgramCloseIsIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramURL(wsURL(srv)))
	stream, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := stream.SendAudio([]byte{1}); err == nil {
		t.Error("SendAudio after Close succeeded")
	}

	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed")
	}
}
