package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/centraunit/modkit/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the counter module with the introspection API",
	Long: `Start the counter module and serve /health, /metrics, /scopes,
/registry and /bindings over HTTP. When nats.url is configured the counter
also accepts counter.add requests and forwards counter.changed events.

Examples:
  modkit serve --config modkit.yaml
  MODKIT_HTTP_PORT=8080 MODKIT_METRICS_ENABLED=true modkit serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := httpapi.NewServer(a.rt, a.gatherer, a.logger.Underlying().Named("http"), &httpapi.Config{
		Host: cfg.HTTP.Host,
		Port: cfg.HTTP.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info(context.Background(), "shutdown requested")
	case err := <-errCh:
		if err != nil {
			a.logger.Error(context.Background(), "http server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
