package benchmarks

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/utkarsh5026/goloky/pool"
)

// =============================================================================
// Workloads
// =============================================================================

type cpuTask struct {
	N          int
	Iterations int
}

// cpuBoundWork burns a fixed amount of CPU per task.
var cpuBoundWork = pool.Register("bench.cpu", func(_ context.Context, t cpuTask) (float64, error) {
	result := float64(t.N)
	for i := 0; i < t.Iterations; i++ {
		result = math.Sqrt(result*result + float64(i))
	}
	return result, nil
})

// ioBoundWork simulates a blocking call inside the worker.
var ioBoundWork = pool.Register("bench.io", func(ctx context.Context, d time.Duration) (time.Duration, error) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return d, nil
})

// echo measures pure round-trip overhead.
var echo = pool.Register("bench.echo", func(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
})

func TestMain(m *testing.M) {
	pool.Init()
	code := m.Run()
	_ = pool.Cleanup()
	os.Exit(code)
}

func newBenchExecutor(b *testing.B, workers int, opts ...pool.Option) *pool.Executor {
	b.Helper()
	opts = append([]pool.Option{
		pool.WithMaxWorkers(workers),
		pool.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	e, err := pool.NewExecutor(opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		_ = e.Shutdown(context.Background(), pool.ShutdownOptions{Wait: true, CancelFutures: true})
	})

	// Spawn the workers outside the timed region.
	warm := make([]*pool.Future[[]byte], workers)
	for i := range warm {
		if warm[i], err = pool.Submit(context.Background(), e, echo, []byte{}); err != nil {
			b.Fatal(err)
		}
	}
	for _, f := range warm {
		if _, err := f.Get(); err != nil {
			b.Fatal(err)
		}
	}
	return e
}

func cpuTasks(count, iterations int) iter.Seq[cpuTask] {
	return func(yield func(cpuTask) bool) {
		for i := 0; i < count; i++ {
			if !yield(cpuTask{N: i, Iterations: iterations}) {
				return
			}
		}
	}
}

func reportThroughput(b *testing.B, tasks, workers int) {
	nsPerOp := float64(b.Elapsed().Nanoseconds()) / float64(b.N)
	tasksPerSec := (float64(tasks) / nsPerOp) * 1e9
	b.ReportMetric(tasksPerSec, "tasks/sec")
	if workers > 0 {
		b.ReportMetric(tasksPerSec/float64(workers), "tasks/sec/worker")
	}
}

// =============================================================================
// Throughput Benchmarks
// =============================================================================

func BenchmarkThroughputWorkerScaling(b *testing.B) {
	workerCounts := []int{1, 2, 4, 8}
	taskCount := 2000

	for _, workers := range workerCounts {
		b.Run(fmt.Sprintf("workers_%d", workers), func(b *testing.B) {
			e := newBenchExecutor(b, workers)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				results, err := pool.Map(ctx, e, cpuBoundWork, cpuTasks(taskCount, 10000), pool.WithChunkSize(50))
				if err != nil {
					b.Fatal(err)
				}
				for _, err := range results {
					if err != nil {
						b.Fatal(err)
					}
				}
			}
			b.StopTimer()

			reportThroughput(b, taskCount, workers)
		})
	}
}

func BenchmarkThroughputChunkSize(b *testing.B) {
	chunkSizes := []int{1, 10, 100, 1000}
	taskCount := 5000
	workers := 4

	for _, chunk := range chunkSizes {
		b.Run(fmt.Sprintf("chunk_%d", chunk), func(b *testing.B) {
			e := newBenchExecutor(b, workers)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				results, err := pool.Map(ctx, e, cpuBoundWork, cpuTasks(taskCount, 100), pool.WithChunkSize(chunk))
				if err != nil {
					b.Fatal(err)
				}
				for _, err := range results {
					if err != nil {
						b.Fatal(err)
					}
				}
			}
			b.StopTimer()

			reportThroughput(b, taskCount, 0)
		})
	}
}

func BenchmarkIOBoundSubmit(b *testing.B) {
	workers := 8
	taskCount := 64

	e := newBenchExecutor(b, workers)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		futures := make([]*pool.Future[time.Duration], taskCount)
		for j := range futures {
			f, err := pool.Submit(ctx, e, ioBoundWork, time.Millisecond)
			if err != nil {
				b.Fatal(err)
			}
			futures[j] = f
		}
		for _, f := range futures {
			if _, err := f.Get(); err != nil {
				b.Fatal(err)
			}
		}
	}
	b.StopTimer()

	reportThroughput(b, taskCount, workers)
}

// =============================================================================
// Latency Benchmarks
// =============================================================================

func BenchmarkRoundTrip(b *testing.B) {
	payloadSizes := []int{0, 1 << 10, 64 << 10, 1 << 20}

	for _, size := range payloadSizes {
		b.Run(fmt.Sprintf("payload_%d", size), func(b *testing.B) {
			e := newBenchExecutor(b, 1)
			payload := make([]byte, size)
			ctx := context.Background()

			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				f, err := pool.Submit(ctx, e, echo, payload)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := f.Get(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkRoundTripCodec(b *testing.B) {
	for _, codec := range []string{"gob", "json", "yaml"} {
		b.Run(codec, func(b *testing.B) {
			e := newBenchExecutor(b, 1, pool.WithCodec(codec))
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				f, err := pool.Submit(ctx, e, cpuBoundWork, cpuTask{N: i, Iterations: 1})
				if err != nil {
					b.Fatal(err)
				}
				if _, err := f.Get(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// =============================================================================
// Startup Benchmarks
// =============================================================================

func BenchmarkColdStart(b *testing.B) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	for i := 0; i < b.N; i++ {
		e, err := pool.NewExecutor(pool.WithMaxWorkers(1), pool.WithLogger(logger))
		if err != nil {
			b.Fatal(err)
		}
		f, err := pool.Submit(ctx, e, echo, []byte{})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := f.Get(); err != nil {
			b.Fatal(err)
		}
		if err := e.Shutdown(ctx, pool.ShutdownOptions{Wait: true}); err != nil {
			b.Fatal(err)
		}
	}
}
