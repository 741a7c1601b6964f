package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/logger"
)

var (
	configPath string
	verbose    bool
	cpuOnly    bool
)

var rootCmd = &cobra.Command{
	Use:   "faceswap",
	Short: "Swap faces between images with on-device models",
	Long: `faceswap detects faces, extracts an identity from a source face and
renders it onto the faces of a target image using ONNX models that are
downloaded once and cached locally.

Model URLs, cache location and tuning come from a YAML file (--config),
FACESWAP_* environment variables or a .env file.`,
	SilenceUsage: true,
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the running command, which
// aborts any model download in flight.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log per-stage details")
	rootCmd.PersistentFlags().BoolVar(&cpuOnly, "cpu", false, "Skip the accelerated backend")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the file, applies the environment and flags, and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if cpuOnly {
		cfg.Backend.PreferAccelerated = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
