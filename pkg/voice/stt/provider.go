// Package stt turns user audio into a stream of transcript events.
package stt

import "context"

// TranscriptKind discriminates transcript events.
type TranscriptKind int

const (
	// KindInterim is a provisional hypothesis that may be revised.
	KindInterim TranscriptKind = iota
	// KindFinal is a committed segment of user speech.
	KindFinal
	// KindError reports a recognition failure. Err carries the cause.
	KindError
)

// TranscriptEvent is one recognition result from a live session.
type TranscriptEvent struct {
	Kind       TranscriptKind
	Text       string
	Confidence float64
	Err        error
}

// StreamOptions configure a live recognition session.
type StreamOptions struct {
	Model      string
	Language   string
	Encoding   string
	SampleRate int
}

// Stream is a live speech recognition session. Audio goes in through
// SendAudio, events come out of Transcripts until the session ends.
type Stream interface {
	SendAudio(data []byte) error
	Transcripts() <-chan TranscriptEvent
	Done() <-chan struct{}
	Close() error
}

// Provider opens live recognition sessions.
type Provider interface {
	Name() string
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}
