package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tally/api/internal/app"
	"tally/api/internal/metrics"
	"tally/api/internal/sweeper"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			log := rt.log

			if !skipMigrations {
				if err := rt.migrate(ctx); err != nil {
					return err
				}
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			wf := rt.workflow(m)
			service := app.New(rt.cfg, wf, rt.store, rt.store)
			httpServer := app.NewHTTPServer(service, rt.cfg.CORSOrigin,
				app.WithAccessLog(log.WithField("component", "http")),
				app.WithMetrics(rt.cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			)
			server := &http.Server{
				Addr:              rt.cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			sweepDone := make(chan struct{})
			if rt.cfg.Sweep.Enabled {
				runner := sweeper.New(wf, sweeper.Options{
					Interval: rt.cfg.Sweep.Interval,
					Locker:   rt.locker(),
					Metrics:  m,
					Logger:   log.WithField("component", "sweeper"),
				})
				go func() {
					defer close(sweepDone)
					if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.WithError(err).Error("sweeper stopped")
					}
				}()
			} else {
				close(sweepDone)
			}

			serveErr := make(chan error, 1)
			go func() {
				log.WithField("addr", rt.cfg.Addr).Info("Tally API listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					stop()
					<-sweepDone
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("shutdown error")
			}
			<-sweepDone
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on start")
	return cmd
}
