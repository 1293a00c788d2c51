package main

import (
	"context"
	"testing"

	"github.com/SkynetNext/stagepool/internal/copier"
	"github.com/SkynetNext/stagepool/internal/pool"
	"github.com/SkynetNext/stagepool/internal/sink"
)

type benchRecord struct {
	ID      int64
	Name    string
	Tags    []string
	Payload []byte
}

func newBenchRecord() benchRecord {
	return benchRecord{
		ID:      1,
		Name:    "bench",
		Tags:    []string{"a", "b", "c"},
		Payload: make([]byte, 4096),
	}
}

func BenchmarkPool_AcquireRelease(b *testing.B) {
	p := pool.NewPool("bench-acquire", 8, 1024, 1024)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := p.Acquire(ctx)
			if err == nil {
				p.Release(buf)
			}
		}
	})
}

func BenchmarkSink_Write(b *testing.B) {
	p := pool.NewPool("bench-sink", 1, 1024, 1024)
	ctx := context.Background()
	chunk := make([]byte, 512)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := sink.New(ctx, p)
		if err != nil {
			b.Fatal(err)
		}
		for j := 0; j < 16; j++ {
			s.Write(chunk)
		}
		s.Close()
	}
}

func BenchmarkCopier_Gob(b *testing.B) {
	benchmarkCopier(b, copier.Gob{})
}

func BenchmarkCopier_GobZstd(b *testing.B) {
	benchmarkCopier(b, copier.Zstd(copier.Gob{}))
}

func benchmarkCopier(b *testing.B, codec copier.Codec) {
	c := copier.New(pool.NewPool("bench-"+codec.Name(), 4, 8192, 8192), codec)
	ctx := context.Background()
	src := newBenchRecord()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := copier.Copy(ctx, c, src); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
