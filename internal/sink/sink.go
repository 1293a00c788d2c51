package sink

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/SkynetNext/stagepool/internal/buffer"
	"github.com/SkynetNext/stagepool/internal/metrics"
	"github.com/SkynetNext/stagepool/internal/pool"
)

var (
	// ErrLocked is returned by writes after ReadView or Close
	ErrLocked = errors.New("sink is locked for writing: ReadView or Close has been called")

	// ErrOutOfRange is returned by WriteRange for an offset/length outside the source slice
	ErrOutOfRange = errors.New("write range out of bounds")

	// ErrReleased is returned by ReadView after Close
	ErrReleased = errors.New("sink buffer has been released")
)

// state tracks the sink lifecycle. Transitions only move forward.
type state int

const (
	stateOpen     state = iota // accepting writes
	stateLocked                // writes rejected, buffer still held
	stateReleased              // buffer returned to the pool
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateLocked:
		return "locked"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Sink stages bytes in a buffer loaned from a pool.
// Write until done, read the staged bytes back through ReadView, then Close to return the buffer.
// All methods are safe for concurrent use; they share one lock.
type Sink struct {
	mu    sync.Mutex
	pool  *pool.Pool
	buf   *buffer.Buffer
	n     int // write cursor
	state state
}

// New acquires a buffer from p, blocking until one is free or ctx is done
func New(ctx context.Context, p *pool.Pool) (*Sink, error) {
	buf, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Sink{
		pool: p,
		buf:  buf,
	}, nil
}

// WriteByte appends a single byte
func (s *Sink) WriteByte(c byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return ErrLocked
	}
	s.ensure(s.n + 1)
	s.buf.Bytes()[s.n] = c
	s.n++
	return nil
}

// Write appends p in full
func (s *Sink) Write(p []byte) (int, error) {
	if err := s.WriteRange(p, 0, len(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteRange appends the n bytes of p starting at off.
// A range outside p fails with ErrOutOfRange before anything is written.
func (s *Sink) WriteRange(p []byte, off, n int) error {
	if off < 0 || n < 0 || off > len(p) || n > len(p)-off {
		return ErrOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return ErrLocked
	}
	if n == 0 {
		return nil
	}
	s.ensure(s.n + n)
	copy(s.buf.Bytes()[s.n:], p[off:off+n])
	s.n += n
	return nil
}

// ensure grows the buffer to hold size bytes
func (s *Sink) ensure(size int) {
	if size <= s.buf.Cap() {
		return
	}
	steps := s.buf.GrowTo(size)
	metrics.BufferGrowth.WithLabelValues(s.pool.Name()).Add(float64(steps))
}

// ReadView locks the sink against further writes and returns a reader over the bytes written so far.
// The reader shares the pooled buffer and must not be used after Close.
func (s *Sink) ReadView() (*bytes.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateOpen:
		s.state = stateLocked
	case stateReleased:
		return nil, ErrReleased
	}
	return bytes.NewReader(s.buf.Bytes()[:s.n]), nil
}

// Len returns the number of bytes written
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Close locks the sink and returns its buffer to the pool.
// Only the first call releases; later calls do nothing.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateReleased {
		return nil
	}
	s.state = stateReleased

	metrics.SinkBytes.WithLabelValues(s.pool.Name()).Observe(float64(s.n))
	s.pool.Release(s.buf)
	s.buf = nil
	return nil
}
