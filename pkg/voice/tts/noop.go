package tts

import "context"

// NoOpSpeaker accepts all text and produces no audio.
type NoOpSpeaker struct{}

func (NoOpSpeaker) Name() string { return "noop" }

func (NoOpSpeaker) Speak(ctx context.Context, text string) error { return nil }

func (NoOpSpeaker) NewStream(ctx context.Context) (SpeechStream, error) {
	return noopSpeechStream{}, nil
}

type noopSpeechStream struct{}

func (noopSpeechStream) Push(text string) error                { return nil }
func (noopSpeechStream) EndSegment(ctx context.Context) error  { return nil }
func (noopSpeechStream) Close() error                          { return nil }
