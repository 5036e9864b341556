// Package spool accumulates a response body that may be too large to
// keep comfortably in memory, spilling to a temporary file once it
// crosses a configured threshold.
package spool

import (
	"bytes"
	"io"
	"os"

	"github.com/pollhttp/pollhttp/httperr"
)

// DefaultMemoryLimit is the default threshold before spilling to disk.
const DefaultMemoryLimit = 4 * 1024 * 1024

// Spool collects bytes either in memory or, once above limit, in a
// temporary file.
type Spool struct {
	buf   bytes.Buffer
	file  *os.File
	path  string
	size  int64
	limit int64
}

// New creates a Spool that keeps up to limit bytes in memory (0 means
// DefaultMemoryLimit) before spilling to a temp file.
func New(limit int64) *Spool {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Spool{limit: limit}
}

// Write appends p, spilling to disk the first time the in-memory
// threshold is crossed.
func (s *Spool) Write(p []byte) (int, error) {
	s.size += int64(len(p))

	if s.file == nil && int64(s.buf.Len()+len(p)) <= s.limit {
		return s.buf.Write(p)
	}

	if s.file == nil {
		tmp, err := os.CreateTemp("", "pollhttp-body-*.tmp")
		if err != nil {
			return 0, httperr.NewConnectionClosed("spool", "creating temp file for response body", err)
		}
		s.file = tmp
		s.path = tmp.Name()
		if s.buf.Len() > 0 {
			if _, err := tmp.Write(s.buf.Bytes()); err != nil {
				s.Close()
				return 0, httperr.NewConnectionClosed("spool", "writing buffered body to temp file", err)
			}
		}
		s.buf.Reset()
	}

	n, err := s.file.Write(p)
	if err != nil {
		return n, httperr.NewConnectionClosed("spool", "writing response body to temp file", err)
	}
	return n, nil
}

// Spilled reports whether the data moved to disk.
func (s *Spool) Spilled() bool {
	return s.file != nil
}

// Size is the total number of bytes written.
func (s *Spool) Size() int64 {
	return s.size
}

// Bytes returns the in-memory data. It is empty once the spool has
// spilled; use Reader in that case.
func (s *Spool) Bytes() []byte {
	if s.file != nil {
		return nil
	}
	return s.buf.Bytes()
}

// Reader returns a fresh reader over everything written so far.
func (s *Spool) Reader() (io.ReadCloser, error) {
	if s.file == nil {
		return io.NopCloser(bytes.NewReader(s.buf.Bytes())), nil
	}
	if err := s.file.Sync(); err != nil {
		return nil, httperr.NewConnectionClosed("spool", "syncing temp file", err)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, httperr.NewConnectionClosed("spool", "reopening temp file", err)
	}
	return f, nil
}

// Close removes the backing temp file, if any. Safe to call multiple
// times and on a Spool that never spilled.
func (s *Spool) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	if removeErr := os.Remove(s.path); removeErr != nil && err == nil {
		err = removeErr
	}
	s.file = nil
	s.path = ""
	if err != nil {
		return httperr.NewConnectionClosed("spool", "closing temp file", err)
	}
	return nil
}
