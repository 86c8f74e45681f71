package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/utkarsh5026/goloky/pool"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

var rootCmd = &cobra.Command{
	Use:   "lokyctl",
	Short: "Inspect and benchmark goloky process pools",
	Long: `lokyctl reports how goloky sizes worker pools on this host and runs
small benchmarks against a process executor.

Executor settings come from --config (YAML) and LOKY_* environment
variables, for example LOKY_MAX_WORKERS=4 or LOKY_CODEC=json.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML file with executor settings")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(cpuCmd, configCmd, benchCmd)
}

// loadConfig reads the executor settings selected by --config.
func loadConfig() (*pool.Config, error) {
	return pool.LoadConfig(viper.GetString("config"))
}
