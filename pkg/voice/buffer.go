// Package voice holds pieces shared between speech recognition and
// synthesis.
package voice

import (
	"strings"
	"sync"
)

// Release defaults. Five words keeps the first synthesized chunk of a
// long clause short enough that playback starts quickly.
const (
	defaultMinWords    = 5
	defaultPunctuation = ",.!?"
)

// SentenceBuffer accumulates model text deltas and emits chunks large
// enough to synthesize naturally. A chunk is released when punctuation
// lands, or when the word-count threshold is reached at a confirmed
// word boundary.
type SentenceBuffer struct {
	mu          sync.Mutex
	text        strings.Builder
	minWords    int
	punctuation string
}

// BufferOption adjusts chunking behavior.
type BufferOption func(*SentenceBuffer)

// WithMinWords sets the word-count release threshold. Values below 1
// keep the default.
func WithMinWords(n int) BufferOption {
	return func(b *SentenceBuffer) {
		if n > 0 {
			b.minWords = n
		}
	}
}

// WithPunctuation sets the characters that release a chunk.
func WithPunctuation(set string) BufferOption {
	return func(b *SentenceBuffer) {
		if set != "" {
			b.punctuation = set
		}
	}
}

// NewSentenceBuffer creates a buffer with default settings.
func NewSentenceBuffer(opts ...BufferOption) *SentenceBuffer {
	b := &SentenceBuffer{
		minWords:    defaultMinWords,
		punctuation: defaultPunctuation,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends a text delta and returns a chunk ready for synthesis,
// or empty string while more text should be buffered.
func (b *SentenceBuffer) Add(delta string) string {
	if delta == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A delta starting with whitespace confirms the previous word ended.
	startsWithSpace := delta[0] == ' ' || delta[0] == '\n'

	prevContent := b.text.String()
	prevWordCount := len(strings.Fields(prevContent))

	b.text.WriteString(delta)
	content := b.text.String()

	// Punctuation releases everything up to the last mark.
	if strings.ContainsAny(delta, b.punctuation) {
		lastPunct := strings.LastIndexAny(content, b.punctuation)
		if lastPunct >= 0 {
			chunk := strings.TrimSpace(content[:lastPunct+1])
			remainder := strings.TrimSpace(content[lastPunct+1:])
			b.text.Reset()
			if remainder != "" {
				b.text.WriteString(remainder)
			}
			return chunk
		}
	}

	// Word threshold releases the previous words at a boundary.
	if prevWordCount >= b.minWords && startsWithSpace {
		chunk := strings.TrimSpace(prevContent)
		b.text.Reset()
		b.text.WriteString(strings.TrimLeft(delta, " \n"))
		return chunk
	}

	return ""
}

// Flush returns any remaining buffered text and resets the buffer.
// Call when the model stream ends.
func (b *SentenceBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return result
}

// Reset clears the buffer without returning content.
func (b *SentenceBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}

// Len returns the current buffered length.
func (b *SentenceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.Len()
}
