package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	assert.Equal(t, 5, rb.Write([]byte{1, 2, 3, 4, 5}))
	assert.Equal(t, 3, rb.Write([]byte{6, 7, 8}))
	assert.Zero(t, rb.Dropped())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, rb.Drain())
}

func TestRingBuffer_EvictsOldest(t *testing.T) {
	rb := NewRingBuffer(5) // holds 4 bytes

	rb.Write([]byte{1, 2, 3, 4})
	assert.Zero(t, rb.Dropped())

	rb.Write([]byte{5, 6})
	assert.Equal(t, []byte{3, 4, 5, 6}, rb.Drain(), "newest bytes are kept")
	assert.Equal(t, int64(2), rb.Dropped())
}

func TestRingBuffer_OversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4) // holds 3 bytes

	assert.Equal(t, 3, rb.Write([]byte{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, []byte{4, 5, 6}, rb.Drain())
	assert.Equal(t, int64(3), rb.Dropped())
}

func TestRingBuffer_ReadWraps(t *testing.T) {
	rb := NewRingBuffer(6)

	rb.Write([]byte{1, 2, 3, 4})
	out := make([]byte, 3)
	require.Equal(t, 3, rb.Read(out))
	assert.Equal(t, []byte{1, 2, 3}, out)

	// Write across the end of the backing slice
	rb.Write([]byte{5, 6, 7, 8})
	assert.Equal(t, []byte{4, 5, 6, 7, 8}, rb.Drain())
	assert.Empty(t, rb.Drain())
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3})
	rb.Clear()

	assert.Zero(t, rb.Read(make([]byte, 3)))
	assert.Empty(t, rb.Drain())
}
