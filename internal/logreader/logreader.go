// Package logreader continuously drains a process output stream into a
// bounded in-memory buffer so the writer never blocks on a full pipe.
package logreader

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultLimit bounds retained output; older bytes are discarded first.
const DefaultLimit = 4 << 20

type Reader struct {
	limit int

	mu  sync.Mutex
	buf bytes.Buffer
	err error

	done chan struct{}
}

// New starts draining src in the background.
func New(src io.Reader) *Reader {
	return NewWithLimit(src, DefaultLimit)
}

func NewWithLimit(src io.Reader, limit int) *Reader {
	if limit <= 0 {
		limit = DefaultLimit
	}
	r := &Reader{limit: limit, done: make(chan struct{})}
	go r.drain(src)
	return r
}

func (r *Reader) drain(src io.Reader) {
	defer close(r.done)
	chunk := make([]byte, 32<<10)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			r.append(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
			}
			return
		}
	}
}

func (r *Reader) append(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(p)
	if over := r.buf.Len() - r.limit; over > 0 {
		r.buf.Next(over)
	}
}

// Bytes returns a copy of the retained output.
func (r *Reader) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.buf.Bytes())
}

// Clear discards the retained output.
func (r *Reader) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
}

// Err returns the read error that stopped draining, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the source reached EOF or timeout elapsed, and
// reports whether draining finished.
func (r *Reader) Wait(timeout time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
