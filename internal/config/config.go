package config

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/szibis/logship/internal/auth"
	"github.com/szibis/logship/internal/pipeline"
	"github.com/szibis/logship/internal/queue"
)

// version is set at build time via ldflags
var version = "dev"

// Version returns the build version.
func Version() string { return version }

// Resolver kinds.
const (
	ResolverStatic    = "static"
	ResolverDNS       = "dns"
	ResolverZooKeeper = "zookeeper"
	ResolverFile      = "file"
)

// Config holds the application configuration.
type Config struct {
	ConfigFile string `yaml:"-"`
	EnvFile    string `yaml:"-"`

	LogLevel        string  `yaml:"log_level"`
	StatsAddr       string  `yaml:"stats_addr"`
	DefaultCategory string  `yaml:"default_category"`
	Sync            bool    `yaml:"sync"`
	ShutdownRecord  bool    `yaml:"shutdown_record"`
	MemLimitRatio   float64 `yaml:"memlimit_ratio"`

	Destination Destination      `yaml:"destination"`
	Defaults    PipelineConfig   `yaml:"defaults"`
	Pipelines   []PipelineConfig `yaml:"pipelines"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`

	ShowHelp     bool `yaml:"-"`
	ShowVersion  bool `yaml:"-"`
	ValidateOnly bool `yaml:"-"`
}

// Destination describes where every pipeline ships to.
type Destination struct {
	Resolver  string          `yaml:"resolver"`
	Servers   string          `yaml:"servers"`
	DNS       DNSConfig       `yaml:"dns"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
	File      string          `yaml:"file"`

	Protocol         string     `yaml:"protocol"`
	Insecure         bool       `yaml:"insecure"`
	SocketTimeout    Duration   `yaml:"socket_timeout"`
	MaxFrameSize     int32      `yaml:"max_frame_size"`
	HTTPPath         string     `yaml:"http_path"`
	ServiceName      string     `yaml:"service_name"`
	Compression      string     `yaml:"compression"`
	CompressionLevel int        `yaml:"compression_level"`
	TLS              TLSConfig  `yaml:"tls"`
	Auth             AuthConfig `yaml:"auth"`
}

// DNSConfig configures the dns resolver.
type DNSConfig struct {
	Name    string   `yaml:"name"`
	Timeout Duration `yaml:"timeout"`
}

// ZooKeeperConfig configures the zookeeper resolver.
type ZooKeeperConfig struct {
	Servers        string   `yaml:"servers"`
	Path           string   `yaml:"path"`
	SessionTimeout Duration `yaml:"session_timeout"`
}

// TLSConfig mirrors tls.ClientConfig for YAML.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

// AuthConfig mirrors auth.ClientConfig for YAML. Secrets may instead come
// from LOGSHIP_BEARER_TOKEN and LOGSHIP_BASIC_PASSWORD.
type AuthConfig struct {
	BearerToken   string  `yaml:"bearer_token"`
	BasicUsername string  `yaml:"basic_username"`
	BasicPassword string  `yaml:"basic_password"`
	Headers       Headers `yaml:"headers"`
}

// PipelineConfig tunes one pipeline. Zero fields inherit from Defaults.
type PipelineConfig struct {
	Category        string   `yaml:"category"`
	QueueCapacity   int      `yaml:"queue_capacity"`
	BatchSize       int      `yaml:"batch_size"`
	BatchInterval   Duration `yaml:"batch_interval"`
	FlushPeriod     Duration `yaml:"flush_period"`
	ConnectTimeout  Duration `yaml:"connect_timeout"`
	SendTimeout     Duration `yaml:"send_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	RetryMin        int      `yaml:"retry_min"`
	RetryMax        int      `yaml:"retry_max"`
}

// TelemetryConfig configures OTLP self-monitoring.
type TelemetryConfig struct {
	Endpoint        string   `yaml:"endpoint"`
	Protocol        string   `yaml:"protocol"`
	Insecure        bool     `yaml:"insecure"`
	Timeout         Duration `yaml:"timeout"`
	PushInterval    Duration `yaml:"push_interval"`
	Gzip            bool     `yaml:"gzip"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		StatsAddr:       ":9090",
		DefaultCategory: "default",
		MemLimitRatio:   0.9,
		Destination: Destination{
			Resolver:      ResolverStatic,
			Servers:       "localhost:1463",
			Protocol:      "scribe",
			Insecure:      true,
			SocketTimeout: Duration(5 * time.Second),
			MaxFrameSize:  16 << 20,
			Compression:   "none",
			DNS:           DNSConfig{Timeout: Duration(5 * time.Second)},
			ZooKeeper: ZooKeeperConfig{
				Servers:        "localhost:2181",
				SessionTimeout: Duration(10 * time.Second),
			},
		},
		Defaults: PipelineConfig{
			QueueCapacity:   queue.DefaultCapacity,
			BatchSize:       pipeline.DefaultBatchSize,
			BatchInterval:   Duration(pipeline.DefaultBatchInterval),
			ConnectTimeout:  Duration(pipeline.DefaultConnectTimeout),
			SendTimeout:     Duration(pipeline.DefaultSendTimeout),
			ShutdownTimeout: Duration(pipeline.DefaultShutdownTimeout),
			RetryMin:        pipeline.DefaultRetryMin,
			RetryMax:        pipeline.DefaultRetryMax,
		},
		Telemetry: TelemetryConfig{
			Protocol:     "grpc",
			Insecure:     true,
			PushInterval: Duration(30 * time.Second),
		},
	}
}

// newFlagSet binds every flag to cfg.
func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("logship", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to YAML configuration file")
	fs.StringVar(&cfg.EnvFile, "env-file", "", "Path to a .env file loaded before secrets are read from the environment")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Listen address for /metrics, /live and /ready (empty disables)")
	fs.StringVar(&cfg.DefaultCategory, "category", cfg.DefaultCategory, "Category for untagged input lines")
	fs.BoolVar(&cfg.Sync, "sync", cfg.Sync, "Send every line synchronously and report failures")
	fs.BoolVar(&cfg.ShutdownRecord, "shutdown-record", cfg.ShutdownRecord, "Append a usage record with action=shutdown to every pipeline on exit")
	fs.Float64Var(&cfg.MemLimitRatio, "memlimit-ratio", cfg.MemLimitRatio, "Fraction of the container memory limit used for GOMEMLIMIT (0 disables)")

	d := &cfg.Destination
	fs.StringVar(&d.Resolver, "resolver", d.Resolver, "Endpoint resolver: static, dns, zookeeper, file")
	fs.StringVar(&d.Servers, "servers", d.Servers, "Static endpoint list host1:port1,host2:port2")
	fs.StringVar(&d.DNS.Name, "dns-name", d.DNS.Name, "host:port resolved by the dns resolver")
	fs.Var(&d.DNS.Timeout, "dns-timeout", "DNS lookup timeout")
	fs.StringVar(&d.ZooKeeper.Servers, "zk-servers", d.ZooKeeper.Servers, "ZooKeeper ensemble host1:port1,host2:port2")
	fs.StringVar(&d.ZooKeeper.Path, "zk-path", d.ZooKeeper.Path, "ZooKeeper node holding the servers property")
	fs.Var(&d.ZooKeeper.SessionTimeout, "zk-session-timeout", "ZooKeeper session timeout")
	fs.StringVar(&d.File, "servers-file", d.File, "Properties file with a servers key, reloaded on change")

	fs.StringVar(&d.Protocol, "protocol", d.Protocol, "Transport: scribe, otlp-grpc, otlp-http")
	fs.BoolVar(&d.Insecure, "insecure", d.Insecure, "Disable TLS for OTLP transports")
	fs.Var(&d.SocketTimeout, "socket-timeout", "Scribe socket read/write timeout")
	fs.StringVar(&d.HTTPPath, "http-path", d.HTTPPath, "OTLP/HTTP path (default /v1/logs)")
	fs.StringVar(&d.ServiceName, "service-name", d.ServiceName, "OTLP resource service.name")
	fs.StringVar(&d.Compression, "compression", d.Compression, "OTLP/HTTP body compression: none, gzip, zstd, snappy, lz4")
	fs.IntVar(&d.CompressionLevel, "compression-level", d.CompressionLevel, "Compression level (0 for default)")

	fs.BoolVar(&d.TLS.Enabled, "tls-enabled", d.TLS.Enabled, "Enable custom TLS config")
	fs.StringVar(&d.TLS.CertFile, "tls-cert", d.TLS.CertFile, "Client certificate file (mTLS)")
	fs.StringVar(&d.TLS.KeyFile, "tls-key", d.TLS.KeyFile, "Client private key file (mTLS)")
	fs.StringVar(&d.TLS.CAFile, "tls-ca", d.TLS.CAFile, "CA certificate for collector verification")
	fs.BoolVar(&d.TLS.InsecureSkipVerify, "tls-skip-verify", d.TLS.InsecureSkipVerify, "Skip collector certificate verification")
	fs.StringVar(&d.TLS.ServerName, "tls-server-name", d.TLS.ServerName, "Override the verified server name")

	fs.StringVar(&d.Auth.BearerToken, "auth-bearer-token", d.Auth.BearerToken, "Bearer token (or "+auth.EnvBearerToken+")")
	fs.StringVar(&d.Auth.BasicUsername, "auth-basic-username", d.Auth.BasicUsername, "Basic auth username")
	fs.StringVar(&d.Auth.BasicPassword, "auth-basic-password", d.Auth.BasicPassword, "Basic auth password (or "+auth.EnvBasicPassword+")")
	fs.Var(&d.Auth.Headers, "auth-headers", "Extra headers key1=value1,key2=value2")

	p := &cfg.Defaults
	fs.IntVar(&p.QueueCapacity, "queue-capacity", p.QueueCapacity, "Queue slots per pipeline (power of two)")
	fs.IntVar(&p.BatchSize, "batch-size", p.BatchSize, "Records per batch")
	fs.Var(&p.BatchInterval, "batch-interval", "Maximum wait before a partial batch is sent")
	fs.Var(&p.FlushPeriod, "flush-period", "Flush ticker period (default 5x batch-interval)")
	fs.Var(&p.ConnectTimeout, "connect-timeout", "Connect timeout")
	fs.Var(&p.SendTimeout, "send-timeout", "Send timeout")
	fs.Var(&p.ShutdownTimeout, "shutdown-timeout", "Time allowed to drain a pipeline on exit")
	fs.IntVar(&p.RetryMin, "retry-min", p.RetryMin, "Initial reconnect backoff in failed flush cycles (power of two)")
	fs.IntVar(&p.RetryMax, "retry-max", p.RetryMax, "Maximum reconnect backoff in failed flush cycles (power of two)")

	t := &cfg.Telemetry
	fs.StringVar(&t.Endpoint, "telemetry-endpoint", t.Endpoint, "OTLP endpoint for logship's own logs and metrics (empty disables)")
	fs.StringVar(&t.Protocol, "telemetry-protocol", t.Protocol, "Telemetry protocol: grpc or http")
	fs.BoolVar(&t.Insecure, "telemetry-insecure", t.Insecure, "Plaintext telemetry export")
	fs.Var(&t.PushInterval, "telemetry-push-interval", "Telemetry metric push interval")

	fs.BoolVar(&cfg.ValidateOnly, "validate", false, "Validate the configuration and exit")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	return fs
}

// Load parses args, loads the env file, applies the YAML file and returns
// the merged configuration. Precedence: explicit flags, then YAML, then
// defaults. The env file is loaded first so YAML may reference its variables.
func Load(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.EnvFile != "" {
		// Load never overrides variables already set in the environment.
		if err := godotenv.Load(cfg.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", cfg.EnvFile, err)
		}
	}

	if cfg.ConfigFile != "" {
		explicit := ExplicitFlags(fs)
		if err := cfg.applyYAMLFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
		if err := reapplyFlags(fs, explicit); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// PrintUsage writes the flag help.
func PrintUsage(output io.Writer) {
	fs := newFlagSet(DefaultConfig(), output)
	fmt.Fprintf(output, "logship %s - ships log lines to a collector in batches\n\n", version)
	fmt.Fprintln(output, "Usage: logship [flags] < input")
	fmt.Fprintln(output, "Input lines are either a payload (sent to -category) or category<TAB>payload.")
	fmt.Fprintln(output)
	fs.PrintDefaults()
}

// PrintVersion prints the version.
func PrintVersion() {
	fmt.Printf("logship version %s\n", version)
}

// Categories returns every configured category, the default one first.
func (c *Config) Categories() []string {
	seen := map[string]bool{c.DefaultCategory: true}
	out := []string{c.DefaultCategory}
	for _, p := range c.Pipelines {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	return out
}

// PipelineFor returns the settings for category: its pipelines entry merged
// over Defaults, or Defaults alone.
func (c *Config) PipelineFor(category string) PipelineConfig {
	out := c.Defaults
	out.Category = category
	for _, p := range c.Pipelines {
		if p.Category == category {
			return p.mergeOver(out)
		}
	}
	return out
}

func (p PipelineConfig) mergeOver(base PipelineConfig) PipelineConfig {
	if p.QueueCapacity != 0 {
		base.QueueCapacity = p.QueueCapacity
	}
	if p.BatchSize != 0 {
		base.BatchSize = p.BatchSize
	}
	if p.BatchInterval != 0 {
		base.BatchInterval = p.BatchInterval
	}
	if p.FlushPeriod != 0 {
		base.FlushPeriod = p.FlushPeriod
	}
	if p.ConnectTimeout != 0 {
		base.ConnectTimeout = p.ConnectTimeout
	}
	if p.SendTimeout != 0 {
		base.SendTimeout = p.SendTimeout
	}
	if p.ShutdownTimeout != 0 {
		base.ShutdownTimeout = p.ShutdownTimeout
	}
	if p.RetryMin != 0 {
		base.RetryMin = p.RetryMin
	}
	if p.RetryMax != 0 {
		base.RetryMax = p.RetryMax
	}
	return base
}

// Duration is a time.Duration that reads "5s" style strings from YAML and
// from flags.
type Duration time.Duration

// String implements flag.Value.
func (d *Duration) String() string {
	if d == nil {
		return "0s"
	}
	return time.Duration(*d).String()
}

// Set implements flag.Value.
func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Headers is a string map read as key1=value1,key2=value2 from flags.
type Headers map[string]string

// String implements flag.Value.
func (h *Headers) String() string {
	if h == nil || len(*h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(*h))
	for k := range *h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + (*h)[k]
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value. It replaces any previous value.
func (h *Headers) Set(s string) error {
	out := Headers{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("invalid header %q, want key=value", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	*h = out
	return nil
}
