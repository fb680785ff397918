package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/logship/internal/config"
	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/health"
	"github.com/szibis/logship/internal/lifecycle"
	"github.com/szibis/logship/internal/logging"
	"github.com/szibis/logship/internal/pipeline"
	"github.com/szibis/logship/internal/record"
	"github.com/szibis/logship/internal/telemetry"
	"github.com/szibis/logship/internal/transport"
)

const (
	errorLogEvery   = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowHelp {
		config.PrintUsage(os.Stdout)
		os.Exit(0)
	}
	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}
	if cfg.ValidateOnly {
		res := cfg.Check()
		fmt.Println(res.JSON())
		if !res.Valid {
			os.Exit(1)
		}
		os.Exit(0)
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	if cfg.MemLimitRatio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemLimitRatio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
		)
		if err != nil {
			logging.Warn("GOMEMLIMIT not set", logging.F("error", err.Error()))
		} else {
			logging.Info("GOMEMLIMIT set", logging.F("limit_bytes", limit, "ratio", cfg.MemLimitRatio))
		}
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Registered first so it is shut down last and still exports the
	// pipelines' final log lines.
	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), config.Version())
	if err != nil {
		logging.Fatal("failed to start telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		tel.Register()
	}

	resolver, err := cfg.Destination.NewResolver()
	if err != nil {
		logging.Fatal("failed to create resolver", logging.F("error", err.Error()))
	}
	if c, ok := resolver.(interface{ Close() }); ok {
		lifecycle.Register("resolver", func(context.Context) error {
			c.Close()
			return nil
		})
	}

	tc, err := cfg.Destination.TransportConfig()
	if err != nil {
		logging.Fatal("invalid transport configuration", logging.F("error", err.Error()))
	}
	dialer, err := transport.NewDialer(tc)
	if err != nil {
		logging.Fatal("failed to create dialer", logging.F("error", err.Error()))
	}

	get := func(category string) (*pipeline.Pipeline, error) {
		return pipeline.Get(cfg.PipelineOptions(category, resolver, dialer))
	}

	checker := health.New()
	checker.WatchPipelines(func() []health.Pipeline {
		ps := pipeline.Default.Pipelines()
		out := make([]health.Pipeline, len(ps))
		for i, p := range ps {
			out[i] = p
		}
		return out
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.StatsAddr != "" {
		srv := newStatsServer(cfg.StatsAddr, checker)
		lifecycle.Register("stats server", srv.Shutdown)
		g.Go(func() error {
			logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "paths", "/metrics,/live,/ready"))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("stats server: %w", err)
			}
			return nil
		})
	}

	if f, ok := resolver.(*endpoint.File); ok {
		g.Go(func() error {
			return f.Watch(gctx, nil)
		})
	}

	// Pipelines are registered after the stats server so they drain while
	// /metrics is still served.
	for _, category := range cfg.Categories() {
		if _, err := get(category); err != nil {
			logging.Fatal("failed to create pipeline", logging.F("category", category, "error", err.Error()))
		}
	}

	r := &router{defaultCategory: cfg.DefaultCategory, sync: cfg.Sync, get: get}
	inputDone := make(chan error, 1)
	go func() {
		inputDone <- r.consume(gctx, os.Stdin)
	}()

	logging.Info("logship started", logging.F(
		"version", config.Version(),
		"resolver", resolver.Describe(),
		"protocol", string(dialer.Protocol()),
		"categories", len(cfg.Categories()),
		"sync", cfg.Sync,
	))

	exitCode := 0
	select {
	case err := <-inputDone:
		if err != nil {
			logging.Error("input read failed", logging.F("error", err.Error()))
			exitCode = 1
		} else {
			logging.Info("input closed")
		}
	case <-gctx.Done():
		logging.Info("shutting down", logging.F("reason", context.Cause(gctx).Error()))
	}
	stop()
	r.close()

	checker.SetShuttingDown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if cfg.ShutdownRecord {
		drainWithShutdownRecord(shutdownCtx)
	}
	lifecycle.Run(shutdownCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("background task failed", logging.F("error", err.Error()))
		exitCode = 1
	}

	logging.Info("shutdown complete", logging.F(
		"accepted", r.accepted.Load(),
		"rejected", r.rejected.Load(),
	))
	if cfg.Sync && r.rejected.Load() > 0 && exitCode == 0 {
		exitCode = 1
	}
	return exitCode
}

func newStatsServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", checker.LiveHandler())
	mux.HandleFunc("/ready", checker.ReadyHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// drainWithShutdownRecord appends a shutdown usage record to every pipeline
// and drains them in parallel. The lifecycle hooks then find them closed.
func drainWithShutdownRecord(ctx context.Context) {
	final := record.Usage{Action: record.ActionShutdown}.String()
	var wg sync.WaitGroup
	for _, p := range pipeline.Default.Pipelines() {
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			if err := p.ShutdownWith(ctx, final); err != nil {
				logging.Warn("pipeline drain incomplete", logging.F("pipeline", p.Key(), "error", err.Error()))
			}
		}(p)
	}
	wg.Wait()
}
