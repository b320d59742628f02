package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cinewave/pkg/config"
	"cinewave/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "cinewave",
	Short:        "Watch party sync and stream admission service",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

// loadConfig reads the config named by --config and builds the logger it
// asks for.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, zapLogger, nil
}
