// Package telemetry exports logship's own logs and Prometheus metrics to an
// OTLP collector. It is independent of the pipelines being shipped: a broken
// telemetry endpoint never affects delivery.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	prombridge "go.opentelemetry.io/contrib/bridges/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/szibis/logship/internal/auth"
	"github.com/szibis/logship/internal/lifecycle"
	"github.com/szibis/logship/internal/record"
)

const (
	serviceName            = "logship"
	scopeName              = "github.com/szibis/logship"
	defaultPushInterval    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config selects the collector that receives logship's own telemetry.
type Config struct {
	Endpoint        string        // host:port, empty disables telemetry
	Protocol        string        // "grpc" (default) or "http"
	Insecure        bool          // plaintext connection
	Timeout         time.Duration // per-export timeout, 0 keeps the SDK default
	PushInterval    time.Duration // metric push interval
	Gzip            bool          // gzip export payloads
	Auth            auth.ClientConfig
	ShutdownTimeout time.Duration
	Retry           RetryConfig
}

// RetryConfig mirrors the exporter retry knobs. Zero durations keep the SDK defaults.
type RetryConfig struct {
	Enabled     bool
	Initial     time.Duration
	MaxInterval time.Duration
	MaxElapsed  time.Duration
}

func (c Config) useHTTP() bool {
	return strings.EqualFold(c.Protocol, "http")
}

// Telemetry owns the OTEL log and meter providers.
type Telemetry struct {
	logProvider     *sdklog.LoggerProvider
	meterProvider   *metric.MeterProvider
	logger          otellog.Logger
	shutdownFuncs   []func(context.Context) error
	shutdownTimeout time.Duration
}

// Enabled reports whether telemetry export is running.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.logger != nil
}

// Logger returns the OTEL logger, or nil when disabled.
func (t *Telemetry) Logger() otellog.Logger {
	if t == nil {
		return nil
	}
	return t.logger
}

// ShutdownTimeout returns the grace period for flushing on exit.
func (t *Telemetry) ShutdownTimeout() time.Duration {
	if t == nil || t.shutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return t.shutdownTimeout
}

// Init starts the log and metric exporters. It returns nil, nil when
// cfg.Endpoint is empty.
func Init(ctx context.Context, cfg Config, version string) (*Telemetry, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			semconv.HostName(record.LocalHost()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	t := &Telemetry{shutdownTimeout: cfg.ShutdownTimeout}

	logExporter, err := newLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create log exporter: %w", err)
	}
	t.logProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	t.shutdownFuncs = append(t.shutdownFuncs, t.logProvider.Shutdown)
	t.logger = t.logProvider.Logger(scopeName)

	metricExporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	interval := cfg.PushInterval
	if interval <= 0 {
		interval = defaultPushInterval
	}
	// The bridge pushes everything in the default Prometheus registry.
	t.meterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(interval),
			metric.WithProducer(prombridge.NewMetricProducer()),
		)),
	)
	t.shutdownFuncs = append(t.shutdownFuncs, t.meterProvider.Shutdown)

	return t, nil
}

// Register adds Shutdown to the process shutdown hooks. Hooks run in
// reverse order, so registering telemetry first keeps it alive until the
// pipelines have logged their final drain.
func (t *Telemetry) Register() {
	if t == nil {
		return
	}
	lifecycle.Register("telemetry", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, t.ShutdownTimeout())
		defer cancel()
		return t.Shutdown(ctx)
	})
}

// Shutdown flushes and stops both providers. Calling it twice is safe.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newLogExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	headers := cfg.Auth.HeaderMap()
	if cfg.useHTTP() {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(cfg.Timeout))
		}
		if cfg.Gzip {
			opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
		}
		if len(headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(headers))
		}
		if r := cfg.Retry; r.Enabled {
			opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
				Enabled:         true,
				InitialInterval: r.Initial,
				MaxInterval:     r.MaxInterval,
				MaxElapsedTime:  r.MaxElapsed,
			}))
		}
		return otlploghttp.New(ctx, opts...)
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(cfg.Timeout))
	}
	if cfg.Gzip {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if len(headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(headers))
	}
	if r := cfg.Retry; r.Enabled {
		opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: r.Initial,
			MaxInterval:     r.MaxInterval,
			MaxElapsedTime:  r.MaxElapsed,
		}))
	}
	return otlploggrpc.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, cfg Config) (metric.Exporter, error) {
	headers := cfg.Auth.HeaderMap()
	if cfg.useHTTP() {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlpmetrichttp.WithTimeout(cfg.Timeout))
		}
		if cfg.Gzip {
			opts = append(opts, otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression))
		}
		if len(headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(headers))
		}
		if r := cfg.Retry; r.Enabled {
			opts = append(opts, otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{
				Enabled:         true,
				InitialInterval: r.Initial,
				MaxInterval:     r.MaxInterval,
				MaxElapsedTime:  r.MaxElapsed,
			}))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlpmetricgrpc.WithTimeout(cfg.Timeout))
	}
	if cfg.Gzip {
		opts = append(opts, otlpmetricgrpc.WithCompressor("gzip"))
	}
	if len(headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(headers))
	}
	if r := cfg.Retry; r.Enabled {
		opts = append(opts, otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: r.Initial,
			MaxInterval:     r.MaxInterval,
			MaxElapsedTime:  r.MaxElapsed,
		}))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}
