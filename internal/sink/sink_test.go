package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/SkynetNext/stagepool/internal/pool"
)

func newTestSink(t *testing.T, p *pool.Pool) *Sink {
	t.Helper()
	s, err := New(context.Background(), p)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	return s
}

func readAll(t *testing.T, s *Sink) []byte {
	t.Helper()
	view, err := s.ReadView()
	if err != nil {
		t.Fatalf("Failed to get read view: %v", err)
	}
	data, err := io.ReadAll(view)
	if err != nil {
		t.Fatalf("Failed to read view: %v", err)
	}
	return data
}

func TestSink_RoundTrip(t *testing.T) {
	p := pool.NewPool("sink-roundtrip", 1, 16, 16)
	s := newTestSink(t, p)
	defer s.Close()

	want := []byte("hello, staged world")
	if n, err := s.Write(want); err != nil || n != len(want) {
		t.Fatalf("Write returned n=%d err=%v", n, err)
	}

	if got := readAll(t, s); !bytes.Equal(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestSink_GrowthAcrossBoundary(t *testing.T) {
	p := pool.NewPool("sink-growth", 1, 4, 4)
	s := newTestSink(t, p)
	defer s.Close()

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for _, b := range want {
		if err := s.WriteByte(b); err != nil {
			t.Fatalf("WriteByte failed: %v", err)
		}
	}

	if s.buf.Cap() != 12 {
		t.Errorf("Expected cap=12, got %d", s.buf.Cap())
	}
	if got := readAll(t, s); !bytes.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestSink_BulkWriteLargerThanIncrement(t *testing.T) {
	p := pool.NewPool("sink-bulk", 1, 4, 4)
	s := newTestSink(t, p)
	defer s.Close()

	if err := s.WriteByte(0xFF); err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 37)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := s.WriteRange(payload, 0, len(payload)); err != nil {
		t.Fatalf("WriteRange failed: %v", err)
	}

	// 38 bytes from 4 in steps of 4 -> 40
	if s.buf.Cap() != 40 {
		t.Errorf("Expected cap=40, got %d", s.buf.Cap())
	}
	got := readAll(t, s)
	if got[0] != 0xFF || !bytes.Equal(got[1:], payload) {
		t.Errorf("Unexpected contents: %v", got)
	}
}

func TestSink_WriteRangeSubslice(t *testing.T) {
	p := pool.NewPool("sink-subslice", 1, 8, 8)
	s := newTestSink(t, p)
	defer s.Close()

	src := []byte("0123456789")
	if err := s.WriteRange(src, 3, 4); err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, s); string(got) != "3456" {
		t.Errorf("Expected 3456, got %q", got)
	}
}

func TestSink_WriteRangeBounds(t *testing.T) {
	p := pool.NewPool("sink-bounds", 1, 8, 8)
	s := newTestSink(t, p)
	defer s.Close()

	if err := s.WriteRange([]byte("ab"), 0, 2); err != nil {
		t.Fatal(err)
	}

	src := []byte("abcdefgh")
	cases := []struct {
		name     string
		off, len int
	}{
		{"negative offset", -1, 5},
		{"length past end", 3, len(src)},
		{"negative length", 0, -1},
		{"offset past end", len(src) + 1, 0},
	}
	for _, c := range cases {
		err := s.WriteRange(src, c.off, c.len)
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("%s: expected ErrOutOfRange, got %v", c.name, err)
		}
	}

	if s.Len() != 2 {
		t.Errorf("Expected cursor unchanged at 2, got %d", s.Len())
	}
	if got := readAll(t, s); string(got) != "ab" {
		t.Errorf("Expected contents unchanged, got %q", got)
	}
}

func TestSink_ZeroLengthWrite(t *testing.T) {
	p := pool.NewPool("sink-zero", 1, 4, 4)
	s := newTestSink(t, p)
	defer s.Close()

	if err := s.WriteRange([]byte("abc"), 3, 0); err != nil {
		t.Errorf("Expected zero-length write at end to succeed, got %v", err)
	}
	if n, err := s.Write(nil); err != nil || n != 0 {
		t.Errorf("Expected empty write to succeed, got n=%d err=%v", n, err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected cursor=0, got %d", s.Len())
	}
}

func TestSink_WriteAfterReadView(t *testing.T) {
	p := pool.NewPool("sink-locked", 1, 4, 4)
	s := newTestSink(t, p)
	defer s.Close()

	_, _ = s.Write([]byte("abc"))
	if _, err := s.ReadView(); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteByte('d'); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked from WriteByte, got %v", err)
	}
	if _, err := s.Write([]byte("d")); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked from Write, got %v", err)
	}
	if err := s.WriteRange([]byte("d"), 0, 1); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked from WriteRange, got %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("Expected cursor unchanged at 3, got %d", s.Len())
	}

	// Repeated views see the same bytes
	if got := readAll(t, s); string(got) != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	if got := readAll(t, s); string(got) != "abc" {
		t.Errorf("Expected abc on second view, got %q", got)
	}
}

func TestSink_ReadViewKeepsBuffer(t *testing.T) {
	p := pool.NewPool("sink-view-holds", 1, 4, 4)
	s := newTestSink(t, p)

	if _, err := s.ReadView(); err != nil {
		t.Fatal(err)
	}
	if _, inUse, _ := p.Stats(); inUse != 1 {
		t.Errorf("Expected ReadView to keep the buffer, got inUse=%d", inUse)
	}

	s.Close()
	if _, inUse, _ := p.Stats(); inUse != 0 {
		t.Errorf("Expected Close to return the buffer, got inUse=%d", inUse)
	}
}

func TestSink_WriteAfterClose(t *testing.T) {
	p := pool.NewPool("sink-closed", 1, 4, 4)
	s := newTestSink(t, p)
	_, _ = s.Write([]byte("x"))
	s.Close()

	if err := s.WriteByte('y'); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Expected cursor unchanged at 1, got %d", s.Len())
	}
	if _, err := s.ReadView(); !errors.Is(err, ErrReleased) {
		t.Errorf("Expected ErrReleased, got %v", err)
	}
}

func TestSink_DoubleClose(t *testing.T) {
	p := pool.NewPool("sink-double-close", 1, 4, 4)
	s := newTestSink(t, p)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Another holder takes the buffer; a second Close must not steal it back
	other := newTestSink(t, p)
	defer other.Close()

	if err := s.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
	if _, inUse, _ := p.Stats(); inUse != 1 {
		t.Errorf("Expected other sink to keep its buffer, got inUse=%d", inUse)
	}
}

func TestSink_NewCancelled(t *testing.T) {
	p := pool.NewPool("sink-cancel", 1, 4, 4)
	holder := newTestSink(t, p)
	defer holder.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s, err := New(ctx, p)
	if !errors.Is(err, pool.ErrInterrupted) {
		t.Errorf("Expected ErrInterrupted, got %v", err)
	}
	if s != nil {
		t.Error("Expected no sink on cancellation")
	}
	if _, inUse, _ := p.Stats(); inUse != 1 {
		t.Errorf("Expected only the holder's buffer in use, got %d", inUse)
	}
}

func TestSink_NoLeakFromPreviousHolder(t *testing.T) {
	p := pool.NewPool("sink-no-leak", 1, 16, 16)

	first := newTestSink(t, p)
	_, _ = first.Write([]byte("secret payload"))
	first.Close()

	second := newTestSink(t, p)
	defer second.Close()
	_, _ = second.Write([]byte("hi"))

	if got := readAll(t, second); string(got) != "hi" {
		t.Errorf("Expected only the new holder's bytes, got %q", got)
	}
}

func TestSink_BlockedUntilClose(t *testing.T) {
	p := pool.NewPool("sink-handover", 1, 4, 4)
	a := newTestSink(t, p)
	_, _ = a.Write([]byte("from a"))
	heldBuf := a.buf

	got := make(chan *Sink, 1)
	go func() {
		s, err := New(context.Background(), p)
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
			return
		}
		got <- s
	}()

	select {
	case <-got:
		t.Fatal("Expected second sink to block")
	case <-time.After(30 * time.Millisecond):
	}

	a.Close()

	select {
	case b := <-got:
		defer b.Close()
		if b.buf != heldBuf {
			t.Error("Expected the same buffer instance to be handed over")
		}
		if b.Len() != 0 {
			t.Errorf("Expected new sink cursor=0, got %d", b.Len())
		}
	case <-time.After(time.Second):
		t.Fatal("Blocked sink was not woken by Close")
	}
}

func TestSink_ConcurrentWriters(t *testing.T) {
	p := pool.NewPool("sink-concurrent", 1, 8, 8)
	s := newTestSink(t, p)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.WriteByte('x')
			}
		}()
	}
	wg.Wait()

	if s.Len() != 1600 {
		t.Errorf("Expected 1600 bytes, got %d", s.Len())
	}
}

func TestSink_ConcurrentWriteAndClose(t *testing.T) {
	p := pool.NewPool("sink-race-close", 1, 8, 8)
	s := newTestSink(t, p)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if err := s.WriteByte('x'); err != nil && !errors.Is(err, ErrLocked) {
				t.Errorf("Unexpected error: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		s.Close()
	}()
	wg.Wait()

	if total, inUse, _ := p.Stats(); total != 1 || inUse != 0 {
		t.Errorf("Expected buffer returned exactly once, got total=%d inUse=%d", total, inUse)
	}
}

func TestState_String(t *testing.T) {
	if stateOpen.String() != "open" || stateLocked.String() != "locked" || stateReleased.String() != "released" {
		t.Error("Unexpected state names")
	}
}
