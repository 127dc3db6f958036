package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartoonize/cartoon"
	"cartoonize/middleware"

	"github.com/spf13/cobra"
)

func newServeCmd(load func() (*app, error)) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Settings.ListenAddr
			}

			srv := &server{
				cfg:      a.cfg,
				catalog:  a.catalog,
				pipeline: cartoon.NewPipeline(a.cfg, a.catalog, a.logger),
				registry: cartoon.NewRegistry(a.cfg, a.logger),
				store:    middleware.NewStore(a.cfg.Settings.SessionSecret, a.cfg.InsecureSessionSecret(), a.logger),
				logger:   a.logger,
			}
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           newRouter(srv),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.SessionIdleTimeout() > 0 {
				go sweepSessions(ctx, srv.registry, time.Minute)
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", addr).Msg("starting server")
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to LISTEN_ADDR)")
	return cmd
}

// sweepSessions discards idle sessions every interval until ctx is done.
func sweepSessions(ctx context.Context, reg *cartoon.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Sweep()
		}
	}
}
