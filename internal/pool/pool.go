package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/SkynetNext/stagepool/internal/buffer"
	"github.com/SkynetNext/stagepool/internal/logger"
	"github.com/SkynetNext/stagepool/internal/metrics"
)

const (
	// DefaultSlots is the number of buffers in a pool built without an explicit size
	DefaultSlots = 3

	// DefaultBufferSize is the initial capacity of each pooled buffer (1 MiB)
	DefaultBufferSize = 1 << 20

	// DefaultIncrement is the growth step of each pooled buffer (1 MiB)
	DefaultIncrement = 1 << 20
)

// ErrInterrupted is returned when a blocked Acquire is cancelled
var ErrInterrupted = errors.New("buffer acquisition interrupted")

// Option configures a Pool
type Option func(*Pool)

// WithClearOnRelease zeroes buffer contents every time a buffer is returned
func WithClearOnRelease() Option {
	return func(p *Pool) {
		p.clearOnRelease = true
	}
}

// Pool is a fixed set of growable buffers loaned out one holder at a time.
// Acquire blocks while every buffer is in use; Release hands a buffer back and wakes one waiter.
type Pool struct {
	name           string
	slots          int
	initialSize    int
	increment      int
	clearOnRelease bool

	// available counts unused buffers; waiters are served in FIFO order
	available *semaphore.Weighted

	mu     sync.Mutex
	unused *queue.Queue                 // FIFO of *buffer.Buffer
	inUse  map[*buffer.Buffer]struct{} // keyed by identity
}

// NewPool creates a pool of slots buffers, each starting at initialSize bytes and growing by increment.
// Non-positive arguments take the package defaults.
func NewPool(name string, slots, initialSize, increment int, opts ...Option) *Pool {
	if slots <= 0 {
		slots = DefaultSlots
	}
	if initialSize <= 0 {
		initialSize = DefaultBufferSize
	}
	if increment <= 0 {
		increment = DefaultIncrement
	}

	p := &Pool{
		name:        name,
		slots:       slots,
		initialSize: initialSize,
		increment:   increment,
		available:   semaphore.NewWeighted(int64(slots)),
		unused:      queue.New(),
		inUse:       make(map[*buffer.Buffer]struct{}, slots),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < slots; i++ {
		p.unused.Add(buffer.New(initialSize, increment))
	}

	metrics.PoolSlots.WithLabelValues(name).Set(float64(slots))
	metrics.PoolInUse.WithLabelValues(name).Set(0)

	return p
}

// NewDefaultPool creates a pool with 3 buffers of 1 MiB growing by 1 MiB
func NewDefaultPool() *Pool {
	return NewPool("default", 0, 0, 0)
}

// Name returns the pool name used in logs and metrics
func (p *Pool) Name() string {
	return p.name
}

// Slots returns the fixed number of buffers in the pool
func (p *Pool) Slots() int {
	return p.slots
}

// Acquire waits for an unused buffer and loans it to the caller.
// If ctx is cancelled first, the returned error matches both ErrInterrupted and ctx.Err()
// and the pool is left untouched.
func (p *Pool) Acquire(ctx context.Context) (*buffer.Buffer, error) {
	start := time.Now()
	if err := p.available.Acquire(ctx, 1); err != nil {
		metrics.AcquireInterrupted.WithLabelValues(p.name).Inc()
		logger.DebugWithTrace(ctx, "buffer acquisition interrupted",
			zap.String("pool", p.name),
			zap.Duration("waited", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: pool %s: %w", ErrInterrupted, p.name, err)
	}
	metrics.AcquireWait.WithLabelValues(p.name).Observe(time.Since(start).Seconds())

	p.mu.Lock()
	// A permit guarantees the queue is non-empty
	buf := p.unused.Remove().(*buffer.Buffer)
	p.inUse[buf] = struct{}{}
	p.mu.Unlock()

	metrics.PoolInUse.WithLabelValues(p.name).Inc()
	return buf, nil
}

// Release returns a loaned buffer to the pool.
// Buffers not currently loaned by this pool are ignored, so releasing twice is harmless
// and never inflates the number of available buffers.
func (p *Pool) Release(buf *buffer.Buffer) {
	if !p.markUnused(buf) {
		metrics.ReleaseIgnored.WithLabelValues(p.name).Inc()
		logger.L.Debug("ignored release of untracked buffer", zap.String("pool", p.name))
		return
	}
	metrics.PoolInUse.WithLabelValues(p.name).Dec()
	p.available.Release(1)
}

// markUnused moves buf from in-use to unused, reporting whether it was in use
func (p *Pool) markUnused(buf *buffer.Buffer) bool {
	if buf == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[buf]; !ok {
		return false
	}
	delete(p.inUse, buf)
	if p.clearOnRelease {
		buf.Clear()
	}
	p.unused.Add(buf)
	return true
}

// Stats returns pool statistics
func (p *Pool) Stats() (total, inUse, unused int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse = len(p.inUse)
	unused = p.unused.Length()
	total = inUse + unused
	return
}

// CapacityBytes sums the capacity of every buffer currently in the pool's hands.
// Loaned buffers are skipped since their holders may be growing them.
func (p *Pool) CapacityBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	sum := 0
	for i := 0; i < p.unused.Length(); i++ {
		sum += p.unused.Get(i).(*buffer.Buffer).Cap()
	}
	return sum
}
