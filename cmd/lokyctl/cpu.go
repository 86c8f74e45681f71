package main

import (
	"os"
	"runtime"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/utkarsh5026/goloky/pool"
)

var cpuCmd = &cobra.Command{
	Use:   "cpu",
	Short: "Show the CPU counts goloky derives for this host",
	RunE:  runCPU,
}

func runCPU(_ *cobra.Command, _ []string) error {
	logical, err := pool.CPUCount(false)
	if err != nil {
		return err
	}
	physical, err := pool.CPUCount(true)
	if err != nil {
		return err
	}

	limit := os.Getenv(pool.MaxCPUCountEnv)
	if limit == "" {
		limit = "-"
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Source", "CPUs")
	_ = table.Append("runtime.NumCPU", strconv.Itoa(runtime.NumCPU()))
	_ = table.Append("usable (default max workers)", strconv.Itoa(logical))
	_ = table.Append("usable physical cores", strconv.Itoa(physical))
	_ = table.Append(pool.MaxCPUCountEnv, limit)
	return table.Render()
}
