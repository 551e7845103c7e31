package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	address string
	key     string
	segment time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mockservice",
	Short: "Run a local speech service that describes the audio it receives",
	Long: `mockservice speaks the speech websocket protocol on every path under /speech/.
Point the recognizer at it with service.host: ws://127.0.0.1:8765`,
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	rootCmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:8765", "Listen address")
	rootCmd.Flags().StringVarP(&key, "key", "k", "", "Require this subscription key or bearer token")
	rootCmd.Flags().DurationVar(&segment, "segment", 0, "Emit a phrase every segment of audio instead of one per turn")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every ignored message")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	mux := http.NewServeMux()
	mux.Handle("/speech/", &mockService{logger: logger, key: key, segment: segment})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock speech service listening", slog.String("address", address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
