package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/telebridge/telebridge/internal/scheduler"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the forwarding daemon",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			sched := scheduler.New(a.db, a.sessions, a.srcValid, a.tgtValid, a.engine,
				a.notifier, a.collector, scheduler.Config{
					Interval:             a.cfg.PollInterval,
					StatusStaleAfter:     a.cfg.StatusStaleAfter,
					ValidationStaleAfter: a.cfg.ValidationStaleAfter,
					Workers:              a.cfg.Workers,
				}, a.logger)

			var metricsSrv *http.Server
			if a.cfg.MetricsEnabled() && a.collector != nil {
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.collector.Handler())
				metricsSrv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
				go func() {
					a.logger.Info("metrics server listening", "addr", a.cfg.MetricsAddr)
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", "error", err)
					}
				}()
			}

			// Setup graceful shutdown
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				sig := <-sigCh

				a.logger.Info("received shutdown signal", "signal", sig)
				a.logger.Info("shutting down...")

				sched.Stop()
				cancel()
			}()

			a.logger.Info("daemon is running, press Ctrl+C to stop")
			sched.Start(ctx)

			if metricsSrv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("metrics server shutdown failed", "error", err)
				}
			}

			a.logger.Info("daemon stopped")
			return nil
		},
	}
}
