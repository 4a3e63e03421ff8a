package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/gateway"
	"github.com/chakravyuh/voice-tutor/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve browser voice sessions over WebSocket",
	Long: `Serve browser voice sessions over WebSocket.

Endpoints:
  /sessions/voice   WebSocket voice session
  /health           liveness
  /ready            readiness of the speech backends
  /metrics          Prometheus metrics (METRICS_ENABLED)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		port, err := cmd.Flags().GetString("port")
		if err != nil {
			return fmt.Errorf("failed to read 'port' flag: %w", err)
		}
		if port != "" {
			cfg.Port = port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "override PORT")
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()
	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("voice_agent", cfg.RealtimeURL != "").
		Msg("Voice tutor starting")

	backend, err := gateway.NewBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to build speech backend: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/voice", gateway.HandleVoiceWS(cfg, backend))
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := backend.Checks()
	checks["deepgram"] = func(ctx context.Context) (bool, error) {
		if cfg.DeepgramAPIKey == "" && cfg.RealtimeURL == "" {
			return false, errors.New("DEEPGRAM_API_KEY is not set")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/sessions/voice", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info().Msg("Server exited gracefully")
	return nil
}
