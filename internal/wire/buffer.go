package wire

import (
	"errors"
	"fmt"
)

// MaxMsgSize is the largest datagram any keydir process will send or
// accept. Messages that would exceed this bound must be rejected at
// serialization time rather than truncated on the wire.
const MaxMsgSize = 6000

// ErrBufferFull is returned when an append would exceed the buffer's
// capacity. The buffer contents are unchanged.
var ErrBufferFull = errors.New("wire: buffer full")

// ErrParse is returned (wrapped) for any malformed input: truncated
// elements, unknown type tags, or string lengths that exceed the remaining
// buffer. The read cursor is unchanged after a parse failure.
var ErrParse = errors.New("wire: parse error")

// Buffer is a bounded write-and-read byte buffer with two independent
// cursors. Elements are appended at the write cursor and retrieved at the
// read cursor; neither cursor ever passes the other or the capacity.
//
// Buffer is not safe for concurrent use. Each datagram gets a fresh Buffer;
// reusing one across datagrams is not supported.
type Buffer struct {
	data []byte // Fixed backing array, len(data) is the capacity
	w    int    // Write cursor: next append lands here
	r    int    // Read cursor: next retrieve starts here
}

// NewBuffer returns an empty Buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewBufferFromBytes returns a Buffer whose readable region is exactly b.
// The buffer does not copy b; callers hand over ownership. The write cursor
// starts at len(b), so the buffer is full for writing and full for reading.
func NewBufferFromBytes(b []byte) *Buffer {
	return &Buffer{data: b, w: len(b)}
}

// Capacity returns the total capacity of the buffer in bytes.
func (b *Buffer) Capacity() int { return len(b.data) }

// WriteLen returns the number of bytes written so far. This is the length
// of the datagram that Bytes would return.
func (b *Buffer) WriteLen() int { return b.w }

// ReadLen returns the number of bytes consumed by retrieves so far.
func (b *Buffer) ReadLen() int { return b.r }

// Unread returns the number of written bytes not yet retrieved.
func (b *Buffer) Unread() int { return b.w - b.r }

// Bytes returns the written region of the buffer. The slice aliases the
// buffer's backing array; callers must not retain it past the buffer's
// lifetime.
func (b *Buffer) Bytes() []byte { return b.data[:b.w] }

// appendSafe reports whether n more bytes fit in the buffer.
func (b *Buffer) appendSafe(n int) bool { return b.w+n <= len(b.data) }

// retrieveSafe reports whether n bytes can be read without passing the
// write cursor.
func (b *Buffer) retrieveSafe(n int) bool { return b.r+n <= b.w }

// AppendRaw writes raw bytes at the write cursor. It writes either all of
// p or nothing, returning ErrBufferFull when p does not fit.
func (b *Buffer) AppendRaw(p []byte) error {
	if !b.appendSafe(len(p)) {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrBufferFull, len(p), len(b.data)-b.w)
	}
	copy(b.data[b.w:], p)
	b.w += len(p)
	return nil
}

// retrieveRaw reads exactly n bytes from the read cursor, returning a slice
// into the backing array. On failure the read cursor is unchanged.
func (b *Buffer) retrieveRaw(n int) ([]byte, error) {
	if !b.retrieveSafe(n) {
		return nil, fmt.Errorf("%w: need %d bytes, %d unread", ErrParse, n, b.Unread())
	}
	out := b.data[b.r : b.r+n]
	b.r += n
	return out, nil
}

// mark captures the read cursor so a multi-step parse can be rolled back
// atomically on failure.
func (b *Buffer) mark() int { return b.r }

// resetTo rolls the read cursor back to a previous mark.
func (b *Buffer) resetTo(m int) { b.r = m }
