// Package serve implements the serve command exposing the HTTP API.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/apisentry/internal/api"
	"github.com/joshsymonds/apisentry/internal/app"
)

const shutdownGrace = 10 * time.Second

// NewCommand returns the serve command.
func NewCommand(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd.Context(), rt)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	if err := rt.Viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	return cmd
}

// Run serves until ctx is canceled, then drains in-flight requests.
func Run(ctx context.Context, rt *app.Runtime) error {
	a, err := rt.App(ctx)
	if err != nil {
		return err
	}
	cfg := a.Config

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(a.Store, a.Importer, api.Options{
			Logger:         a.Logger,
			CORSOrigins:    cfg.Server.CORSOrigins,
			MaxImportBytes: cfg.Import.MaxBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		// Scans hold the response open for up to the scan timeout.
		WriteTimeout: cfg.Scan.Timeout + 15*time.Second,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Serving API", "addr", cfg.Server.Addr, "workspace", cfg.Workspace)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
