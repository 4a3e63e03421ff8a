package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for PCM audio. When full, new
// writes evict the oldest bytes so the most recent audio is kept.
type RingBuffer struct {
	mu      sync.Mutex
	buffer  []byte
	size    int
	read    int
	write   int
	dropped int64
}

// NewRingBuffer creates a ring buffer holding up to size-1 bytes
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, evicting the oldest bytes if needed.
// Returns the number of bytes of data now held in the buffer.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := rb.size - 1
	if len(data) > capacity {
		rb.dropped += int64(len(data) - capacity)
		data = data[len(data)-capacity:]
	}
	if over := len(data) - (capacity - rb.available()); over > 0 {
		rb.read = (rb.read + over) % rb.size
		rb.dropped += int64(over)
	}

	for n := 0; n < len(data); {
		end := rb.size
		if rb.write < rb.read {
			end = rb.read
		}
		c := copy(rb.buffer[rb.write:end], data[n:])
		rb.write = (rb.write + c) % rb.size
		n += c
	}
	return len(data)
}

// Read reads up to len(data) bytes and returns the number read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(data) && rb.read != rb.write {
		end := rb.write
		if rb.write < rb.read {
			end = rb.size
		}
		c := copy(data[read:], rb.buffer[rb.read:end])
		rb.read = (rb.read + c) % rb.size
		read += c
	}
	return read
}

// Drain returns every buffered byte and empties the buffer
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	n := rb.available()
	rb.mu.Unlock()

	out := make([]byte, n)
	return out[:rb.Read(out)]
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Dropped returns the total number of bytes evicted or truncated
func (rb *RingBuffer) Dropped() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear empties the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}
