// cmd/piiredact/run.go
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/pipeline"
)

var runFlags struct {
	schedule    string
	metricsAddr string
	batchSize   int
	noVerify    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every input batch after the last checkpoint",
	Long: `Process every input batch after the last checkpoint.

Each batch is classified, appended to clean and quarantine, redacted into
redacted and merged into clean_processed. A batch is checkpointed only after
every table holds it, so an interrupted run is finished by running again.

Examples:
  # Run once
  piiredact run --input-path customers.csv --table-path tables --expectations-path rules.json

  # Run every five minutes and serve metrics
  piiredact run --schedule "*/5 * * * *" --metrics-addr :9102`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.schedule, "schedule", "", "cron schedule; empty runs once")
	runCmd.Flags().StringVar(&runFlags.metricsAddr, "metrics-addr", "", "listen address for /metrics; empty disables")
	runCmd.Flags().IntVar(&runFlags.batchSize, "batch-size", 0, "records per batch (overrides BATCH_SIZE)")
	runCmd.Flags().BoolVar(&runFlags.noVerify, "no-verify", false, "skip per-batch row count reconciliation")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("schedule") {
		cfg.Schedule = runFlags.schedule
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = runFlags.metricsAddr
	}
	if runFlags.batchSize > 0 {
		cfg.BatchSize = runFlags.batchSize
	}
	if runFlags.noVerify {
		cfg.VerifyBatches = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := setup(ctx, cfg, logger, reg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	if cfg.Schedule == "" {
		return runOnce(ctx, cmd, a.pipeline)
	}
	return runScheduled(ctx, cmd, a.pipeline, cfg.Schedule)
}

// runOnce processes every pending batch and prints the run report
func runOnce(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline) error {
	summary, err := p.Run(ctx)
	if summary != nil {
		fmt.Fprint(cmd.OutOrStdout(), summary.Report())
	}
	return err
}

// runScheduled runs immediately and then on every tick of the schedule
// until the process is interrupted. A tick that arrives while a run is in
// progress is skipped.
func runScheduled(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	if err := runOnce(ctx, cmd, p); err != nil {
		return err
	}

	runs := make(chan error, 1)
	schedLog := newCronLogger(logger)
	c := cron.New(
		cron.WithLogger(schedLog),
		cron.WithChain(cron.SkipIfStillRunning(schedLog)),
	)
	_, err := c.AddFunc(schedule, func() {
		if err := runOnce(ctx, cmd, p); err != nil {
			select {
			case runs <- err:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule runs: %w", err)
	}

	c.Start()
	logger.Info("Scheduler started", zap.String("schedule", schedule))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Scheduler stopping")
	case runErr = <-runs:
		logger.Error("Scheduled run failed; stopping", zap.Error(runErr))
	}

	<-c.Stop().Done()
	return runErr
}

// serveMetrics exposes the registry on addr
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// cronLogger adapts zap to cron.Logger. cron passes its context as
// alternating key/value pairs, which zap's sugared logger takes as is.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func newCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{sugar: logger.Named("cron").Sugar()}
}

// Info logs scheduler routine messages at debug level
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
