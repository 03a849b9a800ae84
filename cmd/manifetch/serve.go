package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datallboy/manifetch/internal/api"
	"github.com/datallboy/manifetch/internal/domain"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose run control and history over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appCtx, err := bootstrap(ctx, true, nil)
			if err != nil {
				return err
			}
			defer appCtx.Close()

			e := echo.New()
			api.RegisterRoutes(e, appCtx)

			srv := &http.Server{
				Addr:              ":" + appCtx.Config.Port,
				Handler:           e,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				appCtx.Logger.Info("Listening on %s", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			appCtx.Logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// Let an active run wind down so its history is recorded
			appCtx.Controller.Stop()
			if _, err := appCtx.Controller.Wait(shutdownCtx); err != nil && !errors.Is(err, domain.ErrNoRun) {
				appCtx.Logger.Warn("Run did not finish before shutdown: %v", err)
			}

			return srv.Shutdown(shutdownCtx)
		},
	}
}
