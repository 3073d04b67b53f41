package prompt

import (
	"sync"

	"github.com/ent0n29/chorus/internal/memory"
)

// DefaultBufferCapacity bounds the per-scope rolling buffer.
const DefaultBufferCapacity = 30

// Buffer is a fixed-capacity FIFO of recent turns for one scope. It is a
// latency optimization only: volatile, never the system of record.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	turns    []memory.Turn
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append adds a turn, evicting the oldest entry at capacity.
func (b *Buffer) Append(t memory.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, t)
	if len(b.turns) > b.capacity {
		b.turns = b.turns[len(b.turns)-b.capacity:]
	}
}

// Snapshot returns the buffered turns oldest to newest. With excludeLatest
// the most recently appended entry is dropped, so the triggering message is
// not double-included in assembled context.
func (b *Buffer) Snapshot(excludeLatest bool) []memory.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.turns)
	if excludeLatest && n > 0 {
		n--
	}
	out := make([]memory.Turn, n)
	copy(out, b.turns[:n])
	return out
}

// Len reports the current number of buffered turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// BufferRegistry hands out one rolling buffer per scope within a process.
type BufferRegistry struct {
	mu       sync.Mutex
	capacity int
	buffers  map[string]*Buffer
}

func NewBufferRegistry(capacity int) *BufferRegistry {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &BufferRegistry{capacity: capacity, buffers: make(map[string]*Buffer)}
}

func (r *BufferRegistry) For(scope memory.Scope) *Buffer {
	key := scope.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[key]
	if !ok {
		b = NewBuffer(r.capacity)
		r.buffers[key] = b
	}
	return b
}
