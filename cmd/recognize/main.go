package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skypro1111/speech-session-engine/internal/config"
	"github.com/skypro1111/speech-session-engine/internal/recognizer"
)

const serviceName = "speech-session-engine"

var (
	configPath  string
	inputPath   string
	captureRate int
	language    string
	voiceOut    string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:           "recognize",
	Short:         "Recognize or translate speech against the speech service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Recognize a single utterance and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), false)
	},
}

var continuousCmd = &cobra.Command{
	Use:   "continuous",
	Short: "Recognize until the input ends or the process is interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, recognizer.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&inputPath, "input", "i", "-", "WAV file to recognize, or - for raw PCM on stdin")
	rootCmd.PersistentFlags().IntVar(&captureRate, "capture-rate", 0, "Treat stdin as 32-bit float samples at this rate")
	rootCmd.PersistentFlags().StringVarP(&language, "language", "l", "", "Override the recognition language")
	rootCmd.PersistentFlags().StringVar(&voiceOut, "voice-out", "", "Write synthesized translation audio to this file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON lines")

	rootCmd.AddCommand(onceCmd, continuousCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// results go to stdout, so logs default to stderr
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
