// Package rbuf implements the fixed-capacity socket read buffer shared by
// the wire codec and body framer.
package rbuf

import "bytes"

// Buffer is a byte buffer of fixed capacity with a begin/end cursor pair.
// Data between b and e is unconsumed; data before b has already been
// handed to a caller. Unlike bytes.Buffer it never grows past its initial
// capacity, which is what lets callers reason about exactly how much
// data a single socket read can add.
type Buffer struct {
	d    []byte
	b, e int
}

// New allocates a Buffer with the given fixed capacity.
func New(capacity int) *Buffer {
	return &Buffer{d: make([]byte, capacity)}
}

// Len returns the number of unconsumed bytes currently buffered.
func (buf *Buffer) Len() int {
	return buf.e - buf.b
}

// Cap returns the buffer's fixed capacity.
func (buf *Buffer) Cap() int {
	return len(buf.d)
}

// Bytes returns the unconsumed portion of the buffer. The slice aliases
// the buffer's internal storage and is only valid until the next call
// that mutates the buffer.
func (buf *Buffer) Bytes() []byte {
	return buf.d[buf.b:buf.e]
}

// Consume advances the begin cursor by n bytes, as if the caller had
// taken ownership of that much data.
func (buf *Buffer) Consume(n int) {
	buf.b += n
	if buf.b == buf.e {
		buf.b, buf.e = 0, 0
	}
}

// Clear forgets all buffered data without reallocating.
func (buf *Buffer) Clear() {
	buf.b, buf.e = 0, 0
}

// Compact moves unconsumed data to the beginning of the backing array so
// that the full capacity is available for the next fill.
func (buf *Buffer) Compact() {
	if buf.b == 0 {
		return
	}
	n := copy(buf.d, buf.d[buf.b:buf.e])
	buf.b = 0
	buf.e = n
}

// FreeTail returns the writable region at the end of the buffer, to be
// used as the target of a socket read. Callers must call Produced with
// however many bytes were actually written into it.
func (buf *Buffer) FreeTail() []byte {
	return buf.d[buf.e:]
}

// Produced records that n bytes were written into the slice returned by
// the most recent FreeTail call.
func (buf *Buffer) Produced(n int) {
	buf.e += n
}

// Full reports whether the buffer has no room left for further reads
// without first consuming or compacting.
func (buf *Buffer) Full() bool {
	return buf.e == len(buf.d)
}

// Exhaust returns and consumes the entirety of the currently buffered
// data, resetting the buffer to empty. The returned slice is a copy and
// remains valid after further use of the buffer.
func (buf *Buffer) Exhaust() []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.d[buf.b:buf.e])
	buf.b, buf.e = 0, 0
	return out
}

// FindDelimiter searches the unconsumed region for delim, returning its
// offset relative to the start of the unconsumed region and true, or
// (-1, false) if delim is not present.
func (buf *Buffer) FindDelimiter(delim []byte) (int, bool) {
	idx := bytes.Index(buf.d[buf.b:buf.e], delim)
	if idx < 0 {
		return -1, false
	}
	return idx, true
}
