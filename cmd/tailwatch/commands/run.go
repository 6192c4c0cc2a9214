package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moolen/tailwatch/internal/config"
	"github.com/moolen/tailwatch/internal/lifecycle"
	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/scenario"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the calibration, detection and alarm loops",
	Long: `Run starts the scan loops on their configured intervals, serves
Prometheus metrics and keeps running until SIGINT or SIGTERM.`,
	Run: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	HandleError(err, "Configuration error")
	logger := logging.GetLogger("tailwatch")
	logger.Info("Starting tailwatch v%s", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	HandleError(err, "Startup error")
	defer rt.close()

	manager := lifecycle.NewManager()
	HandleError(manager.Register(rt.tracing), "Tracing registration error")

	var schedulerDeps []lifecycle.Component
	if cfg.ScenarioWatch {
		w := config.NewScenarioWatcher(rt.scenarios, 0, func(scenarios []scenario.Scenario) {
			logger.Info("Scenario file reloaded: %d scenarios, metrics %v", len(scenarios), scenario.RequiredMetrics(scenarios))
		})
		HandleError(manager.Register(w), "Scenario watcher registration error")
		schedulerDeps = append(schedulerDeps, w)
	}
	if cfg.MetricsPort > 0 {
		metricsServer := newMetricsServer(cfg.MetricsPort, rt.registry)
		HandleError(manager.Register(metricsServer), "Metrics server registration error")
		schedulerDeps = append(schedulerDeps, metricsServer)
	}
	schedulerDeps = append(schedulerDeps, rt.tracing)
	HandleError(manager.Register(rt.scheduler, schedulerDeps...), "Scheduler registration error")

	if err := manager.Start(ctx); err != nil {
		logger.Error("Failed to start components: %v", err)
		rt.close()
		HandleError(err, "Startup error")
	}
	logger.Info("tailwatch started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
	logger.Info("Shutdown complete")
}

// newMetricsServer serves reg on /metrics.
func newMetricsServer(port int, reg *prometheus.Registry) lifecycle.Component {
	logger := logging.GetLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &lifecycle.Func{
		ComponentName: "metrics-server",
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("Serving metrics on %s/metrics", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.ErrorWithErr("metrics server failed", err)
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	}
}
