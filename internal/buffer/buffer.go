package buffer

// Buffer is a byte slice that grows by a fixed increment when more room is needed.
// Capacity never shrinks. A Buffer has no locking of its own: the pool owns it
// while unused and exactly one sink owns it while loaned out.
type Buffer struct {
	buf       []byte
	increment int
}

// New allocates a buffer of initialSize bytes that grows by increment bytes per step
func New(initialSize, increment int) *Buffer {
	if initialSize < 0 {
		panic("buffer: negative initial size")
	}
	if increment <= 0 {
		panic("buffer: increment must be positive")
	}
	return &Buffer{
		buf:       make([]byte, initialSize),
		increment: increment,
	}
}

// Cap returns the current capacity in bytes
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Increment returns the growth step size
func (b *Buffer) Increment() int {
	return b.increment
}

// Bytes returns the backing slice. Callers must not retain it past their loan.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Grow reallocates the backing slice with one more increment of capacity.
// Existing bytes keep their offsets.
func (b *Buffer) Grow() {
	grown := make([]byte, len(b.buf)+b.increment)
	copy(grown, b.buf)
	b.buf = grown
}

// GrowTo grows the buffer step by step until it holds at least n bytes.
// Returns the number of growth steps taken.
func (b *Buffer) GrowTo(n int) int {
	steps := 0
	for len(b.buf) < n {
		b.Grow()
		steps++
	}
	return steps
}

// Clear zeroes the contents without touching capacity
func (b *Buffer) Clear() {
	clear(b.buf)
}
