package conn

import (
	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/ioready"
	"github.com/pollhttp/pollhttp/internal/spool"
	"github.com/pollhttp/pollhttp/internal/wire"
)

// chunkReadState is the resumable progress of a single chunked-body
// read operation (Read, ReadInto, ReadAll or Discard all drive the
// same state machine, differing only in what they do with the bytes).
type chunkReadState struct {
	phase        int
	chunkLeft    int64
	wantBytes    int
	collected    []byte
	discardOnly  bool
	unboundedAll bool
}

const (
	chunkPhaseIdle = iota
	chunkPhaseSize
	chunkPhaseData
	chunkPhaseDataCRLF
	chunkPhaseTrailer
	chunkPhaseDone
)

// popFinishedRequest removes the head pending-request entry once its
// response body has been fully consumed.
func (c *Connection) popFinishedRequest() {
	if len(c.pending) > 0 {
		c.pending = c.pending[1:]
	}
	c.inRemaining = nil
	c.encoding = encodingNone
	c.encodingErr = nil
}

func (c *Connection) checkBodyReadable(op string) error {
	if c.inRemaining == nil {
		return httperr.NewStateError(op, "no response body is currently being read")
	}
	if c.encoding == encodingDeferredError {
		return c.encodingErr
	}
	return nil
}

// Read reads up to n bytes of the current response body. It returns a
// zero-length, non-nil slice once the body is fully consumed.
func (c *Connection) Read(n int) ioready.Outcome[[]byte] {
	if err := c.checkBodyReadable("read"); err != nil {
		return ioready.Fail[[]byte](err)
	}
	if c.encoding == encodingChunked {
		return c.readChunked(n, false)
	}
	return c.readIdentity(n)
}

// ReadAll reads the entire remaining response body, however large.
func (c *Connection) ReadAll() ioready.Outcome[[]byte] {
	if err := c.checkBodyReadable("read_all"); err != nil {
		return ioready.Fail[[]byte](err)
	}
	if c.encoding == encodingChunked {
		return c.readChunked(-1, false)
	}
	return c.readAllIdentity()
}

// readAllIdentity loops readIdentity until the body is exhausted, since
// a single call returns at most a buffer's worth of bytes. The
// accumulated bytes live in c.readAllBuf so a suspended call picks up
// where it left off instead of restarting.
func (c *Connection) readAllIdentity() ioready.Outcome[[]byte] {
	for {
		out := c.readIdentity(c.opts.bufferSize())
		if out.IsPending() {
			return out
		}
		if out.Err != nil {
			c.readAllBuf = nil
			return out
		}
		if len(out.Value) == 0 {
			result := c.readAllBuf
			c.readAllBuf = nil
			if result == nil {
				result = []byte{}
			}
			return ioready.Ready(result)
		}
		c.readAllBuf = append(c.readAllBuf, out.Value...)
	}
}

// ReadInto reads into buf, returning the number of bytes placed there.
func (c *Connection) ReadInto(buf []byte) ioready.Outcome[int] {
	out := c.Read(len(buf))
	if out.IsPending() {
		return ioready.Outcome[int]{Pending: out.Pending}
	}
	if out.Err != nil {
		return ioready.Fail[int](out.Err)
	}
	copy(buf, out.Value)
	return ioready.Ready(len(out.Value))
}

// Discard reads and throws away the entire remaining response body.
func (c *Connection) Discard() ioready.Outcome[struct{}] {
	if err := c.checkBodyReadable("discard"); err != nil {
		return ioready.Fail[struct{}](err)
	}
	var out ioready.Outcome[[]byte]
	if c.encoding == encodingChunked {
		out = c.readChunked(-1, true)
	} else {
		for {
			o := c.readIdentity(c.opts.bufferSize())
			if o.IsPending() {
				return ioready.Outcome[struct{}]{Pending: o.Pending}
			}
			if o.Err != nil {
				return ioready.Fail[struct{}](o.Err)
			}
			if len(o.Value) == 0 {
				return ioready.Ready(struct{}{})
			}
		}
	}
	if out.IsPending() {
		return ioready.Outcome[struct{}]{Pending: out.Pending}
	}
	if out.Err != nil {
		return ioready.Fail[struct{}](out.Err)
	}
	return ioready.Ready(struct{}{})
}

// ReadAllSpooled reads the entire remaining response body into a
// spool.Spool, keeping it in memory up to memLimit bytes (0 means
// spool.DefaultMemoryLimit) and spilling to a temporary file beyond
// that -- for bodies too large to comfortably buffer with ReadAll.
// The caller owns the returned Spool and must Close it.
func (c *Connection) ReadAllSpooled(memLimit int64) ioready.Outcome[*spool.Spool] {
	if c.spoolOp == nil {
		if err := c.checkBodyReadable("read_all_spooled"); err != nil {
			return ioready.Fail[*spool.Spool](err)
		}
		c.spoolOp = spool.New(memLimit)
	}

	for {
		out := c.Read(c.opts.bufferSize())
		if out.IsPending() {
			return ioready.Outcome[*spool.Spool]{Pending: out.Pending}
		}
		if out.Err != nil {
			c.spoolOp.Close()
			c.spoolOp = nil
			return ioready.Fail[*spool.Spool](out.Err)
		}
		if len(out.Value) == 0 {
			result := c.spoolOp
			c.spoolOp = nil
			return ioready.Ready(result)
		}
		if _, err := c.spoolOp.Write(out.Value); err != nil {
			c.spoolOp.Close()
			c.spoolOp = nil
			return ioready.Fail[*spool.Spool](err)
		}
	}
}

// readIdentity reads up to n bytes of a Content-Length-framed body.
func (c *Connection) readIdentity(n int) ioready.Outcome[[]byte] {
	remaining := *c.inRemaining
	if remaining == 0 {
		c.popFinishedRequest()
		return ioready.Ready([]byte{})
	}
	want := int64(n)
	if want <= 0 || want > remaining {
		want = remaining
	}

	for int64(c.rbuf.Len()) < want {
		if c.rbuf.Full() {
			c.rbuf.Compact()
			if c.rbuf.Full() {
				break
			}
		}
		_, pending, err := c.tryFillBuffer()
		if err != nil {
			return ioready.Fail[[]byte](err)
		}
		if pending != nil {
			return ioready.Outcome[[]byte]{Pending: pending}
		}
	}

	got := int64(c.rbuf.Len())
	if got > want {
		got = want
	}
	if got == 0 {
		// Buffer has no room for even one more byte (shouldn't happen
		// with a sane buffer size relative to caller chunk sizes); force
		// progress by handing back one byte's worth of compaction room.
		c.rbuf.Compact()
		return c.readIdentity(n)
	}

	out := make([]byte, got)
	copy(out, c.rbuf.Bytes()[:got])
	c.rbuf.Consume(int(got))

	remaining -= got
	*c.inRemaining = remaining
	// Don't pop here even if remaining has just reached zero: the
	// contract is that Read returns empty exactly once, on the call
	// after the last data-bearing one, and pops only then.
	return ioready.Ready(out)
}

// readChunked drives the chunked-transfer-encoding state machine. When
// n < 0 it reads until the body ends (ReadAll/Discard semantics);
// otherwise it returns as soon as it has up to n bytes, possibly before
// the body ends, unless discardOnly is set in which case the return
// value is always empty and every byte is thrown away.
func (c *Connection) readChunked(n int, discardOnly bool) ioready.Outcome[[]byte] {
	st := &c.chunkRead
	if st.phase == chunkPhaseDone {
		// The previous call returned the last data; this one reports the
		// end of the body.
		*st = chunkReadState{}
		c.popFinishedRequest()
		return ioready.Ready([]byte{})
	}
	if st.phase == chunkPhaseIdle {
		*st = chunkReadState{phase: chunkPhaseSize, discardOnly: discardOnly, unboundedAll: n < 0}
		if n > 0 {
			st.wantBytes = n
		}
	}

	for {
		switch st.phase {
		case chunkPhaseSize:
			out := c.stepReadUntil([]byte("\r\n"), MaxLineSize, "server sent ridiculously long chunk size line")
			if out.IsPending() {
				return ioready.Outcome[[]byte]{Pending: out.Pending}
			}
			if out.Err != nil {
				c.abortChunkRead()
				return ioready.Fail[[]byte](out.Err)
			}
			size, err := wire.ChunkSizeLine(trimCRLF(out.Value))
			if err != nil {
				c.abortChunkRead()
				return ioready.Fail[[]byte](err)
			}
			if size == 0 {
				st.phase = chunkPhaseTrailer
			} else {
				st.chunkLeft = size
				st.phase = chunkPhaseData
			}

		case chunkPhaseData:
			want := st.chunkLeft
			if !st.discardOnly && !st.unboundedAll && int64(len(st.collected)) < int64(st.wantBytes) {
				remain := int64(st.wantBytes) - int64(len(st.collected))
				if remain < want {
					want = remain
				}
			}
			for int64(c.rbuf.Len()) < want {
				if c.rbuf.Full() {
					c.rbuf.Compact()
					if c.rbuf.Full() {
						break
					}
				}
				_, pending, err := c.tryFillBuffer()
				if err != nil {
					c.abortChunkRead()
					return ioready.Fail[[]byte](err)
				}
				if pending != nil {
					return ioready.Outcome[[]byte]{Pending: pending}
				}
			}
			got := int64(c.rbuf.Len())
			if got > want {
				got = want
			}
			if !st.discardOnly {
				st.collected = append(st.collected, c.rbuf.Bytes()[:got]...)
			}
			c.rbuf.Consume(int(got))
			st.chunkLeft -= got

			if st.chunkLeft == 0 {
				st.phase = chunkPhaseDataCRLF
			} else if !st.discardOnly && !st.unboundedAll && int64(len(st.collected)) >= int64(st.wantBytes) {
				return ioready.Ready(c.finishChunkRead(st))
			}

		case chunkPhaseDataCRLF:
			out := c.stepReadUntil([]byte("\r\n"), 2, "malformed chunk terminator")
			if out.IsPending() {
				return ioready.Outcome[[]byte]{Pending: out.Pending}
			}
			if out.Err != nil {
				c.abortChunkRead()
				return ioready.Fail[[]byte](out.Err)
			}
			if !st.discardOnly && !st.unboundedAll && int64(len(st.collected)) >= int64(st.wantBytes) {
				return ioready.Ready(c.finishChunkRead(st))
			}
			st.phase = chunkPhaseSize

		case chunkPhaseTrailer:
			// Both "just finished the last data chunk" and "read a
			// zero-size chunk directly" land here: either way a trailer
			// header block (possibly empty) terminates the body.
			out := c.stepReadHeaderBlock()
			if out.IsPending() {
				return ioready.Outcome[[]byte]{Pending: out.Pending}
			}
			if out.Err != nil {
				c.abortChunkRead()
				return ioready.Fail[[]byte](out.Err)
			}
			st.phase = chunkPhaseDone
			if !st.discardOnly && !st.unboundedAll && len(st.collected) > 0 {
				result := st.collected
				*st = chunkReadState{phase: chunkPhaseDone}
				return ioready.Ready(result)
			}
			return ioready.Ready(c.finishChunkRead(st))
		}
	}
}

func (c *Connection) finishChunkRead(st *chunkReadState) []byte {
	result := st.collected
	if st.phase == chunkPhaseDone {
		c.popFinishedRequest()
	}
	*st = chunkReadState{}
	if result == nil {
		result = []byte{}
	}
	return result
}

func (c *Connection) abortChunkRead() {
	c.chunkRead = chunkReadState{}
}
