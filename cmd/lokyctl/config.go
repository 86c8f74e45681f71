package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective executor settings as YAML",
	RunE:  runConfig,
}

type configView struct {
	MaxWorkers   int    `yaml:"max_workers"`
	StartMethod  string `yaml:"start_method"`
	IdleTimeout  string `yaml:"idle_timeout"`
	StartTimeout string `yaml:"start_timeout"`
	QueueSize    int    `yaml:"queue_size"`
	Codec        string `yaml:"codec"`
	CrashBurst   int    `yaml:"crash_burst"`
	CrashWindow  string `yaml:"crash_window"`
	CPUAffinity  bool   `yaml:"cpu_affinity"`
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(configView{
		MaxWorkers:   cfg.MaxWorkers,
		StartMethod:  cfg.StartMethod,
		IdleTimeout:  cfg.IdleTimeout.String(),
		StartTimeout: cfg.StartTimeout.String(),
		QueueSize:    cfg.QueueSize,
		Codec:        cfg.Codec,
		CrashBurst:   cfg.CrashBurst,
		CrashWindow:  cfg.CrashWindow.String(),
		CPUAffinity:  cfg.CPUAffinity,
	})
}
