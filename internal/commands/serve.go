package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stark-agent/handler"
)

func newServeCommand(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent as a plain HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				a.cfg.Port = port
			}
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")

	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := a.log
	addr := ":" + strconv.Itoa(a.cfg.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Recovery(log)(handler.Logger(log)(a.handler)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(a.cfg.RequestTimeout),
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting STARK API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			log.Error().Err(err).Msg("server failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

// writeTimeout follows the request deadline so multi-step model calls are not
// cut off. Without a request deadline writes are unbounded.
func writeTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 0
	}
	return requestTimeout + 15*time.Second
}
