package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagevault/ingestd/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromContext(cmd)
			if err != nil {
				return err
			}
			logger := a.Logger()
			repos := a.Repositories()

			server := api.NewServer(
				a.Orchestrator(),
				repos.Ledger,
				repos.Tags,
				repos.Params,
				a.Knowledge(),
				logger,
			)

			addr := fmt.Sprintf(":%d", a.Config().Server.Port)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", addr))
				if serr := httpServer.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
					errCh <- serr
				}
			}()

			select {
			case serr := <-errCh:
				return fmt.Errorf("http server: %w", serr)
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
				return fmt.Errorf("shutdown http server: %w", serr)
			}
			return nil
		},
	}
}
