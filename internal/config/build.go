package config

import (
	"fmt"
	"strings"

	"github.com/szibis/logship/internal/auth"
	"github.com/szibis/logship/internal/compression"
	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/pipeline"
	"github.com/szibis/logship/internal/telemetry"
	tlspkg "github.com/szibis/logship/internal/tls"
	"github.com/szibis/logship/internal/transport"
)

// TLSConfig returns the transport TLS settings.
func (d Destination) TLSConfig() tlspkg.ClientConfig {
	return tlspkg.ClientConfig{
		Enabled:            d.TLS.Enabled,
		CertFile:           d.TLS.CertFile,
		KeyFile:            d.TLS.KeyFile,
		CAFile:             d.TLS.CAFile,
		InsecureSkipVerify: d.TLS.InsecureSkipVerify,
		ServerName:         d.TLS.ServerName,
	}
}

// AuthConfig returns the transport credentials, with secrets missing from
// flags and YAML filled from the environment.
func (d Destination) AuthConfig() auth.ClientConfig {
	return auth.ClientConfig{
		BearerToken:       d.Auth.BearerToken,
		BasicAuthUsername: d.Auth.BasicUsername,
		BasicAuthPassword: d.Auth.BasicPassword,
		Headers:           d.Auth.Headers,
	}.WithEnv()
}

// TransportConfig returns the settings for transport.NewDialer.
func (d Destination) TransportConfig() (transport.Config, error) {
	proto, err := transport.ParseProtocol(d.Protocol)
	if err != nil {
		return transport.Config{}, err
	}
	ctype, err := compression.ParseType(d.Compression)
	if err != nil {
		return transport.Config{}, err
	}
	return transport.Config{
		Protocol:      proto,
		Insecure:      d.Insecure,
		SocketTimeout: d.SocketTimeout.Std(),
		MaxFrameSize:  d.MaxFrameSize,
		HTTPPath:      d.HTTPPath,
		ServiceName:   d.ServiceName,
		TLS:           d.TLSConfig(),
		Auth:          d.AuthConfig(),
		Compression: compression.Config{
			Type:  ctype,
			Level: compression.Level(d.CompressionLevel),
		},
	}, nil
}

// NewResolver builds the endpoint resolver selected by d.Resolver.
// Callers close resolvers that implement interface{ Close() }.
func (d Destination) NewResolver() (endpoint.Resolver, error) {
	switch d.Resolver {
	case ResolverStatic, "":
		eps := endpoint.ParseList(d.Servers)
		if len(eps) == 0 {
			return nil, fmt.Errorf("static resolver: no valid endpoints in %q", d.Servers)
		}
		return endpoint.NewStatic(eps...), nil
	case ResolverDNS:
		return endpoint.NewDNS(endpoint.DNSConfig{
			Name:    d.DNS.Name,
			Timeout: d.DNS.Timeout.Std(),
		}, nil)
	case ResolverZooKeeper:
		return endpoint.NewZooKeeper(endpoint.ZooKeeperConfig{
			Servers:        splitList(d.ZooKeeper.Servers),
			Path:           d.ZooKeeper.Path,
			SessionTimeout: d.ZooKeeper.SessionTimeout.Std(),
		})
	case ResolverFile:
		return endpoint.NewFile(d.File)
	default:
		return nil, fmt.Errorf("unknown resolver %q", d.Resolver)
	}
}

// PipelineOptions returns the pipeline options for category.
func (c *Config) PipelineOptions(category string, resolver endpoint.Resolver, dialer transport.Dialer) pipeline.Options {
	p := c.PipelineFor(category)
	return pipeline.Options{
		Category:        category,
		Resolver:        resolver,
		Dialer:          dialer,
		QueueCapacity:   p.QueueCapacity,
		BatchSize:       p.BatchSize,
		BatchInterval:   p.BatchInterval.Std(),
		FlushPeriod:     p.FlushPeriod.Std(),
		ConnectTimeout:  p.ConnectTimeout.Std(),
		SendTimeout:     p.SendTimeout.Std(),
		ShutdownTimeout: p.ShutdownTimeout.Std(),
		RetryMin:        p.RetryMin,
		RetryMax:        p.RetryMax,
	}
}

// TelemetryConfig returns the self-monitoring settings. Telemetry reuses
// the destination credentials.
func (c *Config) TelemetryConfig() telemetry.Config {
	t := c.Telemetry
	return telemetry.Config{
		Endpoint:        t.Endpoint,
		Protocol:        t.Protocol,
		Insecure:        t.Insecure,
		Timeout:         t.Timeout.Std(),
		PushInterval:    t.PushInterval.Std(),
		Gzip:            t.Gzip,
		Auth:            c.Destination.AuthConfig(),
		ShutdownTimeout: t.ShutdownTimeout.Std(),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
