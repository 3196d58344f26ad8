package stt

import (
	"context"
	"sync"
)

// NoOpProvider produces no transcripts. It keeps a session runnable
// when no recognizer is configured.
type NoOpProvider struct{}

func (NoOpProvider) Name() string { return "noop" }

func (NoOpProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	s := &noopStream{
		events: make(chan TranscriptEvent),
		done:   make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s, nil
}

type noopStream struct {
	events    chan TranscriptEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *noopStream) SendAudio(data []byte) error         { return nil }
func (s *noopStream) Transcripts() <-chan TranscriptEvent { return s.events }
func (s *noopStream) Done() <-chan struct{}               { return s.done }

func (s *noopStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.events)
		close(s.done)
	})
	return nil
}
