package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/stagepool/internal/copier"
	"github.com/SkynetNext/stagepool/internal/pool"
)

var (
	slots       = flag.Int("slots", pool.DefaultSlots, "Number of pooled buffers")
	initialSize = flag.Int("initial-size", 64*1024, "Initial buffer size in bytes")
	increment   = flag.Int("increment", 64*1024, "Buffer growth increment in bytes")
	workers     = flag.Int("workers", 32, "Number of concurrent copy workers")
	duration    = flag.Duration("duration", 30*time.Second, "Test duration")
	payloadSize = flag.Int("payload-size", 16*1024, "Payload size in bytes per copied value")
	codecName   = flag.String("codec", "gob", "Codec (gob, yaml)")
	compress    = flag.Bool("compress", false, "Wrap codec with zstd compression")
	timeout     = flag.Duration("timeout", time.Second, "Per-copy acquisition timeout")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

type record struct {
	Seq     int64
	Worker  int
	Payload []byte
}

type Stats struct {
	TotalCopies   int64
	SuccessCopies int64
	FailedCopies  int64
	Interrupted   int64
	Mismatches    int64
	TotalBytes    int64
	MinLatency    time.Duration
	MaxLatency    time.Duration
	TotalLatency  time.Duration
	LatencyCount  int64
}

var stats Stats

func main() {
	flag.Parse()

	codec, err := copier.CodecByName(*codecName, *compress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid codec: %v\n", err)
		os.Exit(2)
	}
	if *codecName == "proto" {
		fmt.Fprintf(os.Stderr, "proto codec needs protobuf messages; use gob or yaml\n")
		os.Exit(2)
	}

	p := pool.NewPool("loadtest", *slots, *initialSize, *increment)
	c := copier.New(p, codec)

	fmt.Printf("=== Stage Pool Load Test ===\n")
	fmt.Printf("Slots: %d (initial %d bytes, increment %d bytes)\n", *slots, *initialSize, *increment)
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Codec: %s, Payload: %d bytes\n", codec.Name(), *payloadSize)
	fmt.Printf("\n")

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	// Start stats reporter
	statsDone := make(chan struct{})
	go reportStats(ctx, p, statsDone)

	var wg sync.WaitGroup
	startTime := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(ctx, c, worker)
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(startTime)

	// Final report
	<-statsDone
	printFinalReport(p, elapsed)
}

func runWorker(ctx context.Context, c *copier.Copier, worker int) {
	payload := make([]byte, *payloadSize)
	for i := range payload {
		payload[i] = byte(worker + i)
	}

	for seq := int64(0); ctx.Err() == nil; seq++ {
		copyOnce(ctx, c, record{Seq: seq, Worker: worker, Payload: payload})
	}
}

func copyOnce(ctx context.Context, c *copier.Copier, src record) {
	start := time.Now()
	atomic.AddInt64(&stats.TotalCopies, 1)

	copyCtx, cancel := context.WithTimeout(ctx, *timeout)
	dst, err := copier.Copy(copyCtx, c, src)
	cancel()
	if err != nil {
		atomic.AddInt64(&stats.FailedCopies, 1)
		if errors.Is(err, pool.ErrInterrupted) {
			atomic.AddInt64(&stats.Interrupted, 1)
		}
		if *verbose && ctx.Err() == nil {
			fmt.Printf("❌ Copy failed: %v\n", err)
		}
		return
	}

	if dst.Seq != src.Seq || dst.Worker != src.Worker || len(dst.Payload) != len(src.Payload) {
		atomic.AddInt64(&stats.Mismatches, 1)
		atomic.AddInt64(&stats.FailedCopies, 1)
		return
	}

	latency := time.Since(start)
	atomic.AddInt64(&stats.SuccessCopies, 1)
	atomic.AddInt64(&stats.TotalBytes, int64(len(src.Payload)))
	atomic.AddInt64(&stats.LatencyCount, 1)

	// Update latency stats
	for {
		oldMin := atomic.LoadInt64((*int64)(&stats.MinLatency))
		if oldMin == 0 || latency < time.Duration(oldMin) {
			if atomic.CompareAndSwapInt64((*int64)(&stats.MinLatency), oldMin, int64(latency)) {
				break
			}
		} else {
			break
		}
	}

	for {
		oldMax := atomic.LoadInt64((*int64)(&stats.MaxLatency))
		if latency > time.Duration(oldMax) {
			if atomic.CompareAndSwapInt64((*int64)(&stats.MaxLatency), oldMax, int64(latency)) {
				break
			}
		} else {
			break
		}
	}

	atomic.AddInt64((*int64)(&stats.TotalLatency), int64(latency))
}

func reportStats(ctx context.Context, p *pool.Pool, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printStats(p)
		}
	}
}

func printStats(p *pool.Pool) {
	_, inUse, unused := p.Stats()
	fmt.Printf("\r[Stats] Copies: %d/%d (failed: %d) | Pool: %d in use, %d unused | Bytes: %d",
		atomic.LoadInt64(&stats.SuccessCopies),
		atomic.LoadInt64(&stats.TotalCopies),
		atomic.LoadInt64(&stats.FailedCopies),
		inUse, unused,
		atomic.LoadInt64(&stats.TotalBytes))
}

func printFinalReport(p *pool.Pool, elapsed time.Duration) {
	fmt.Printf("\n\n=== Final Report ===\n")
	fmt.Printf("Duration: %v\n", elapsed)

	totalCopies := atomic.LoadInt64(&stats.TotalCopies)
	successCopies := atomic.LoadInt64(&stats.SuccessCopies)
	failedCopies := atomic.LoadInt64(&stats.FailedCopies)
	totalBytes := atomic.LoadInt64(&stats.TotalBytes)
	latencyCount := atomic.LoadInt64(&stats.LatencyCount)
	mismatches := atomic.LoadInt64(&stats.Mismatches)

	fmt.Printf("\n--- Copies ---\n")
	fmt.Printf("Total: %d\n", totalCopies)
	if totalCopies > 0 {
		fmt.Printf("Successful: %d (%.2f%%)\n", successCopies, float64(successCopies)/float64(totalCopies)*100)
		fmt.Printf("Failed: %d (%.2f%%)\n", failedCopies, float64(failedCopies)/float64(totalCopies)*100)
	}
	fmt.Printf("Throughput: %.2f copies/s\n", float64(successCopies)/elapsed.Seconds())

	fmt.Printf("\n--- Latency ---\n")
	if latencyCount > 0 {
		fmt.Printf("Min: %v\n", time.Duration(atomic.LoadInt64((*int64)(&stats.MinLatency))))
		fmt.Printf("Max: %v\n", time.Duration(atomic.LoadInt64((*int64)(&stats.MaxLatency))))
		fmt.Printf("Avg: %v\n", time.Duration(atomic.LoadInt64((*int64)(&stats.TotalLatency))/latencyCount))
	}

	fmt.Printf("\n--- Pool ---\n")
	total, inUse, unused := p.Stats()
	fmt.Printf("Buffers: %d (in use: %d, unused: %d)\n", total, inUse, unused)
	fmt.Printf("Retained capacity: %.2f MB\n", float64(p.CapacityBytes())/1024/1024)
	fmt.Printf("Payload bytes: %d (%.2f MB/s)\n", totalBytes, float64(totalBytes)/1024/1024/elapsed.Seconds())

	fmt.Printf("\n--- Errors ---\n")
	fmt.Printf("Interrupted acquisitions: %d\n", atomic.LoadInt64(&stats.Interrupted))
	fmt.Printf("Mismatched copies: %d\n", mismatches)

	// Exit code
	if mismatches > 0 || inUse != 0 || failedCopies > totalCopies/10 {
		fmt.Printf("\n❌ Test failed\n")
		os.Exit(1)
	}
	fmt.Printf("\n✅ Test completed successfully\n")
}
