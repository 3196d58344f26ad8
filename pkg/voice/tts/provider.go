// Package tts turns agent text into audio delivered to a sink.
package tts

import (
	"context"
	"io"
)

// AudioSink receives synthesized audio. The room's outbound audio
// track implements this.
type AudioSink interface {
	WriteAudio(data []byte) error
}

// AudioSinkFunc adapts a function to AudioSink.
type AudioSinkFunc func(data []byte) error

func (f AudioSinkFunc) WriteAudio(data []byte) error { return f(data) }

// DiscardSink drops all audio.
var DiscardSink AudioSink = AudioSinkFunc(func([]byte) error { return nil })

// WriterSink adapts an io.Writer to AudioSink.
func WriterSink(w io.Writer) AudioSink {
	return AudioSinkFunc(func(data []byte) error {
		_, err := w.Write(data)
		return err
	})
}

// SpeechStream accepts text incrementally and synthesizes it as it
// arrives. Pushed text is buffered by the provider until EndSegment
// forces a flush.
type SpeechStream interface {
	// Push appends text to the current segment.
	Push(text string) error
	// EndSegment flushes buffered text and waits for its audio to be
	// delivered to the sink.
	EndSegment(ctx context.Context) error
	Close() error
}

// Speaker synthesizes agent speech.
type Speaker interface {
	Name() string
	// Speak synthesizes text and blocks until the audio has been
	// delivered to the sink.
	Speak(ctx context.Context, text string) error
	// NewStream opens an incremental synthesis session.
	NewStream(ctx context.Context) (SpeechStream, error)
}
