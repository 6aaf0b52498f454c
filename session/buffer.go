package session

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the buffer exceeds its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// AudioBuffer accumulates audio chunks until flushed as one batch.
type AudioBuffer struct {
	mu      sync.Mutex
	data    []byte
	chunks  int
	maxSize int
}

// NewAudioBuffer creates a buffer with the specified maximum size in bytes
func NewAudioBuffer(maxSize int) *AudioBuffer {
	return &AudioBuffer{maxSize: maxSize}
}

// MaxSize returns the maximum buffer size
func (ab *AudioBuffer) MaxSize() int {
	return ab.maxSize
}

// Append adds an audio chunk to the buffer.
// Returns ErrBufferFull if adding the chunk would exceed MaxSize.
func (ab *AudioBuffer) Append(chunk []byte) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.data)+len(chunk) > ab.maxSize {
		return ErrBufferFull
	}
	ab.data = append(ab.data, chunk...)
	ab.chunks++
	return nil
}

// Flush returns the accumulated audio in arrival order and resets the
// buffer. Returns nil when nothing is buffered.
func (ab *AudioBuffer) Flush() []byte {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.data) == 0 {
		return nil
	}
	out := ab.data
	ab.data = nil
	ab.chunks = 0
	return out
}

// Clear empties the buffer without returning data
func (ab *AudioBuffer) Clear() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.data = nil
	ab.chunks = 0
}

// Size returns the current total buffered bytes
func (ab *AudioBuffer) Size() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.data)
}

// IsEmpty returns true if nothing is buffered
func (ab *AudioBuffer) IsEmpty() bool {
	return ab.Size() == 0
}

// ChunkCount returns how many chunks have been appended since the last flush
func (ab *AudioBuffer) ChunkCount() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.chunks
}
