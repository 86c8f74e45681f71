// Command lokyctl inspects the host the way goloky sizes its pools and
// benchmarks a process executor on it.
package main

import (
	"log/slog"
	"os"

	"github.com/utkarsh5026/goloky/pool"
)

func main() {
	// Worker processes are copies of lokyctl; they stop here.
	pool.Init()
	os.Exit(run(os.Args[1:]))
}

// run executes the command line and removes the pool's namespace
// directory before returning the exit code.
func run(args []string) int {
	defer func() {
		if err := pool.Cleanup(); err != nil {
			slog.Warn("cleaning up goloky namespace", "error", err)
		}
	}()

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
