// Package dynbuf provides a growable byte buffer for assembling
// WebSocket frame payloads and partial messages out of the connection
// state machine's Feed loop, where bytes arrive in arbitrary chunks and
// must be retained until a frame or message boundary is reached.
//
// The teacher's shockwave/pkg/shockwave/websocket/pool.go hand-rolls
// fixed-size sync.Pool tiers for this. valyala/bytebufferpool already
// sits in the teacher's go.mod (pulled in indirectly through fasthttp)
// and does the same job with automatic size-class growth, so it is used
// directly here instead of re-implementing pool.go's tiering by hand.
package dynbuf

import "github.com/valyala/bytebufferpool"

// Buffer is a growable byte accumulator backed by a pooled
// bytebufferpool.ByteBuffer.
type Buffer struct {
	bb *bytebufferpool.ByteBuffer
}

// Get returns a Buffer drawn from the shared pool. Callers must call
// Release when done to return the backing storage to the pool.
func Get() *Buffer {
	return &Buffer{bb: bytebufferpool.Get()}
}

// Release returns the buffer's backing storage to the shared pool. The
// Buffer must not be used afterward.
func (b *Buffer) Release() {
	if b.bb == nil {
		return
	}
	bytebufferpool.Put(b.bb)
	b.bb = nil
}

// Write appends p to the buffer. It never fails.
func (b *Buffer) Write(p []byte) {
	b.bb.Write(p) //nolint:errcheck // ByteBuffer.Write never returns a non-nil error
}

// Bytes returns the buffer's current contents. The returned slice is
// only valid until the next Write, Reset, or Release call.
func (b *Buffer) Bytes() []byte {
	return b.bb.B
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int {
	return len(b.bb.B)
}

// Reset discards the buffer's contents without returning it to the pool.
func (b *Buffer) Reset() {
	b.bb.Reset()
}

// ConsumePrefix removes the first n bytes from the buffer, shifting any
// remaining bytes down to index 0. Used by the connection state machine
// to drop bytes that have been fully parsed into a handshake or frame while
// keeping any trailing bytes belonging to the next frame.
func (b *Buffer) ConsumePrefix(n int) {
	if n <= 0 {
		return
	}
	rest := b.bb.B[n:]
	copy(b.bb.B, rest)
	b.bb.B = b.bb.B[:len(rest)]
}
