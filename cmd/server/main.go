// Package main implements the taskpipe server: a pipeline of in-process
// queues behind an HTTP API.
//
// API Endpoints:
//
//	POST /enqueue          - Submits a task to the first stage
//	GET  /result?id=       - Latest recorded outcome of a task
//	GET  /failures         - Most recent failed or timed out tasks
//	POST /schedule         - Registers a cron entry submitting a task
//	POST /unschedule?id=   - Removes a cron entry
//	GET  /stats            - Occupancy of every stage
//	POST /pause?stage=     - Pauses one stage, or all of them
//	POST /resume?stage=    - Resumes one stage, or all of them
//	GET  /metrics          - Prometheus metrics
//
// Request Format (/enqueue):
//
//	{
//	  "type": "email",
//	  "payload": {"to": "user@example.com"},
//	  "priority": 2
//	}
//
// Usage:
//
//	go run ./cmd/server --config taskpipe.toml
//	go run ./cmd/server --embedded-redis
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

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/taskpipe/pkg/config"
	"github.com/guido-cesarano/taskpipe/pkg/logger"
	"github.com/guido-cesarano/taskpipe/pkg/queue"
	"github.com/guido-cesarano/taskpipe/pkg/ratelimit"
	"github.com/guido-cesarano/taskpipe/pkg/results"
	"github.com/guido-cesarano/taskpipe/pkg/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFlag   string
		addrFlag     string
		embeddedFlag bool
	)

	cmd := &cobra.Command{
		Use:           "taskpipe-server",
		Short:         "Run a pipeline of task queues behind an HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFlag)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addrFlag
			}
			if embeddedFlag {
				cfg.Redis.Embedded = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&addrFlag, "addr", ":8081", "HTTP listen address")
	cmd.Flags().BoolVar(&embeddedFlag, "embedded-redis", false, "Run an in-process Redis for results")

	return cmd
}

// run wires the pipeline and serves until SIGINT/SIGTERM.
func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	if cfg.Redis.Embedded {
		s := miniredis.NewMiniRedis()
		if err := s.Start(); err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		defer s.Close()
		cfg.Redis.Addr = s.Addr()
		logger.Log.Info().Str("addr", s.Addr()).Msg("Embedded Redis started")
	}

	store := results.NewStore(cfg.Redis.Addr, cfg.Redis.ResultTTL.Std())
	defer store.Close()
	// Outcomes are written from each stage's listeners before the stage
	// admits its next task. Against an unreachable Redis every completion
	// pays the store's write timeout.
	if err := store.Ping(ctx); err != nil {
		logger.Log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not reachable, outcomes will not be recorded")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Rate > 0 {
		limiter = ratelimit.New(cfg.Redis.Addr, cfg.RateLimit.Rate, cfg.RateLimit.Burst)
		defer limiter.Close()
	}

	metrics := queue.NewMetrics(prometheus.DefaultRegisterer)
	p, err := buildPipeline(cfg.Stages, processorFor, store, metrics)
	if err != nil {
		return err
	}

	sched := schedule.New()
	sched.Start()
	defer sched.Stop()

	apiKey := cfg.Server.APIKey
	if apiKey == "" {
		logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	mux := setupRouter(&app{pipeline: p, results: store, limiter: limiter, sched: sched}, apiKey)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("addr", cfg.Server.Addr).Int("stages", len(cfg.Stages)).Msg("Server listening")
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

	logger.Log.Info().Msg("Shutting down server...")
	for _, q := range p.stages {
		q.Pause()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
