package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpAdapter "github.com/aretw0/coachflow/pkg/adapters/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the session, analysis and dispatch endpoints over HTTP, plus
/metrics, /health and the workflow graph views.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.Config.HTTP.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		handler := httpAdapter.NewHandler(&httpAdapter.Server{
			Sessions:   a.Sessions,
			Analyzer:   a.Analyzer,
			Dispatcher: a.Dispatcher,
			Graphs:     a.Registry,
			Providers:  a.Providers,
			Metrics:    a.Metrics.Handler(),
			Logger:     a.Logger,
		})

		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			a.Logger.Info("Starting coachflow server", "addr", srv.Addr,
				"store", a.Config.Store.Driver, "templates", a.Config.Templates.Driver)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			a.Logger.Info("Start shutdown", "signal", sig.String())

			// Give outstanding requests a deadline for completion.
			timeout := a.Config.HTTP.ShutdownTimeout
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				a.Logger.Warn("Graceful shutdown did not complete", "timeout", timeout, "error", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			a.Logger.Info("coachflow server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on (overrides http.addr)")
}
