package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"listingwatch/services"
)

const shutdownTimeout = 10 * time.Second

func scheduleCommand() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on RUN_SCHEDULE and serve /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := loadConfig()
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			a, err := newApp(ctx, cfg, logger, reg)
			if err != nil {
				return err
			}
			defer a.Close()

			runOnce := func() {
				report, err := a.pipeline.RunScheduled(ctx, services.RunMeta{MinInterval: cfg.MinRunInterval()})
				if err != nil {
					logger.Error("[schedule] Run failed: %v", err)
				}
				if report != nil && !report.Skipped {
					a.pipeline.Insights().Print(os.Stdout, report)
				}
			}

			parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
			c := cron.New(
				cron.WithParser(parser),
				cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
			)
			if _, err := c.AddFunc(cfg.RunSchedule, runOnce); err != nil {
				return fmt.Errorf("invalid RUN_SCHEDULE %q: %w", cfg.RunSchedule, err)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			go func() {
				logger.Info("[schedule] Serving metrics on %s", cfg.MetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("[schedule] Metrics server stopped: %v", err)
				}
			}()

			c.Start()
			logger.Info("[schedule] Scheduler started with %q", cfg.RunSchedule)
			if runNow {
				go runOnce()
			}

			<-ctx.Done()
			logger.Info("[schedule] Shutting down")

			stopped := c.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			select {
			case <-stopped.Done():
			case <-shutdownCtx.Done():
				logger.Warn("[schedule] Timed out waiting for the running job")
			}
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&runNow, "now", false, "also run once immediately")
	return cmd
}
