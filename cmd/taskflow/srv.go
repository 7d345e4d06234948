package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arctek/taskflow"
	"github.com/arctek/taskflow/internal/config"
	"github.com/arctek/taskflow/internal/web"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	var noSweeps bool

	cmd := &cobra.Command{
		Use:   "srv",
		Short: "Run the taskflow API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cfg)

			logger.Info("Opening database", "path", cfg.DBPath)
			engine, database, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var sweeps *taskflow.SweepManager
			if !noSweeps {
				sweeps = taskflow.NewSweepManager(engine)
				sweeps.Start(ctx)
				defer sweeps.Stop()
			}

			srv := web.NewServer(engine, sweeps, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(cfg.ListenAddr)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case sig := <-sigCh:
				logger.Info("Shutting down", "signal", sig)
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().BoolVar(&noSweeps, "no-sweeps", false, "disable background maintenance sweeps")
	return cmd
}
