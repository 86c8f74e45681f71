package main

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/goloky/pool"
)

// collatz returns the longest Collatz chain below n. It is registered at
// package level so worker copies of lokyctl know it too.
var collatz = pool.Register("lokyctl.collatz", func(_ context.Context, n int) (int, error) {
	longest := 0
	for start := 1; start < n; start++ {
		steps := 0
		for x := start; x != 1; steps++ {
			if x%2 == 0 {
				x /= 2
			} else {
				x = 3*x + 1
			}
		}
		longest = max(longest, steps)
	}
	return longest, nil
})

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a CPU-bound workload through a process executor",
	Long: `Run the same CPU-bound workload twice: once through Map and once
through concurrent Submit calls, then report throughput and executor
statistics.

Example:
  lokyctl bench --tasks 200 --size 20000 --chunk 4
  LOKY_MAX_WORKERS=2 lokyctl bench`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("tasks", 100, "Number of tasks per run")
	benchCmd.Flags().Int("size", 10000, "Work per task (Collatz search bound)")
	benchCmd.Flags().Int("chunk", 1, "Inputs per task in the Map run")
	benchCmd.Flags().Int("submitters", 4, "Concurrent submitters in the Submit run")
	benchCmd.Flags().Int("workers", 0, "Max workers (overrides the config)")
	benchCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

type benchResult struct {
	mode    string
	tasks   int
	elapsed time.Duration
}

func runBench(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	tasks, _ := flags.GetInt("tasks")
	size, _ := flags.GetInt("size")
	chunk, _ := flags.GetInt("chunk")
	submitters, _ := flags.GetInt("submitters")
	workers, _ := flags.GetInt("workers")
	noProgress, _ := flags.GetBool("no-progress")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := cfg.Options()
	if workers > 0 {
		opts = append(opts, pool.WithMaxWorkers(workers))
	}

	exec, err := pool.GetReusableExecutor(opts...)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer func() {
		_ = exec.Shutdown(context.Background(), pool.ShutdownOptions{Wait: true})
	}()

	bold.Printf("Benchmarking %d tasks (size %d) on up to %d workers\n\n", tasks, size, exec.MaxWorkers())

	// Start the workers before timing anything.
	warm, err := pool.Submit(ctx, exec, collatz, 2)
	if err != nil {
		return err
	}
	if _, err := warm.Get(); err != nil {
		return err
	}

	var results []benchResult

	mapped, err := benchMap(ctx, exec, tasks, size, chunk, !noProgress)
	if err != nil {
		red.Printf("map run failed: %v\n", err)
		return err
	}
	results = append(results, mapped)

	submitted, err := benchSubmit(ctx, exec, tasks, size, submitters)
	if err != nil {
		red.Printf("submit run failed: %v\n", err)
		return err
	}
	results = append(results, submitted)

	fmt.Println()
	if err := renderResults(results); err != nil {
		return err
	}
	fmt.Println()
	return renderStats(exec.Stats())
}

func inputs(tasks, size int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for range tasks {
			if !yield(size) {
				return
			}
		}
	}
}

func benchMap(ctx context.Context, exec *pool.Executor, tasks, size, chunk int, progress bool) (benchResult, error) {
	var bar *progressbar.ProgressBar
	if progress {
		bar = progressbar.NewOptions(tasks,
			progressbar.OptionSetDescription("Map"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
	}

	start := time.Now()
	results, err := pool.Map(ctx, exec, collatz, inputs(tasks, size), pool.WithChunkSize(chunk))
	if err != nil {
		return benchResult{}, err
	}
	for _, err := range results {
		if err != nil {
			return benchResult{}, err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return benchResult{mode: "map (chunk " + strconv.Itoa(chunk) + ")", tasks: tasks, elapsed: time.Since(start)}, nil
}

func benchSubmit(ctx context.Context, exec *pool.Executor, tasks, size, submitters int) (benchResult, error) {
	submitters = max(submitters, 1)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := range submitters {
		share := tasks / submitters
		if i < tasks%submitters {
			share++
		}
		g.Go(func() error {
			futures := make([]*pool.Future[int], 0, share)
			for range share {
				fut, err := pool.Submit(ctx, exec, collatz, size)
				if err != nil {
					return err
				}
				futures = append(futures, fut)
			}
			for _, fut := range futures {
				if _, err := fut.GetWithContext(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	mode := fmt.Sprintf("submit (%d goroutines)", submitters)
	return benchResult{mode: mode, tasks: tasks, elapsed: time.Since(start)}, nil
}

func renderResults(results []benchResult) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Mode", "Tasks", "Time", "Tasks/sec")
	for _, r := range results {
		rate := float64(r.tasks) / r.elapsed.Seconds()
		_ = table.Append(r.mode, strconv.Itoa(r.tasks), r.elapsed.Round(time.Millisecond).String(), fmt.Sprintf("%.1f", rate))
	}
	return table.Render()
}

func renderStats(s pool.Stats) error {
	state := green.Sprint(s.State)
	if s.State == pool.StateBroken {
		state = red.Sprint(s.State)
	}
	crashes := strconv.FormatUint(s.Crashes, 10)
	if s.Crashes > 0 {
		crashes = yellow.Sprint(crashes)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("State", "Workers", "Spawns", "Completed", "Failed", "Crashes")
	_ = table.Append(
		state,
		strconv.Itoa(s.Workers),
		strconv.FormatUint(s.Spawns, 10),
		strconv.FormatUint(s.Completed, 10),
		strconv.FormatUint(s.Failed, 10),
		crashes,
	)
	return table.Render()
}
