// Package auth attaches collector credentials to outgoing gRPC and HTTP calls.
package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Environment variables that may carry secrets instead of flags.
const (
	EnvBearerToken   = "LOGSHIP_BEARER_TOKEN"
	EnvBasicPassword = "LOGSHIP_BASIC_PASSWORD"
)

// ClientConfig holds credentials sent to the collector.
type ClientConfig struct {
	// BearerToken is sent as "Authorization: Bearer <token>".
	BearerToken string
	// BasicAuthUsername and BasicAuthPassword are sent as basic auth.
	// Basic auth wins over the bearer token when both are set.
	BasicAuthUsername string
	BasicAuthPassword string
	// Headers are extra headers or gRPC metadata.
	Headers map[string]string
}

// Enabled reports whether any credential or header is configured.
func (c ClientConfig) Enabled() bool {
	return c.BearerToken != "" || c.BasicAuthUsername != "" || len(c.Headers) > 0
}

// WithEnv fills empty secrets from the environment.
func (c ClientConfig) WithEnv() ClientConfig {
	if c.BearerToken == "" {
		c.BearerToken = os.Getenv(EnvBearerToken)
	}
	if c.BasicAuthUsername != "" && c.BasicAuthPassword == "" {
		c.BasicAuthPassword = os.Getenv(EnvBasicPassword)
	}
	return c
}

// authorization returns the Authorization value, or "" when none applies.
func (c ClientConfig) authorization() string {
	if c.BasicAuthUsername != "" && c.BasicAuthPassword != "" {
		raw := c.BasicAuthUsername + ":" + c.BasicAuthPassword
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	}
	if c.BearerToken != "" {
		return "Bearer " + c.BearerToken
	}
	return ""
}

// HeaderMap returns the configured headers plus Authorization, for clients
// that take a plain header map.
func (c ClientConfig) HeaderMap() map[string]string {
	out := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		out[k] = v
	}
	if a := c.authorization(); a != "" {
		out["Authorization"] = a
	}
	return out
}

// GRPCClientInterceptor returns a unary interceptor adding the credentials as metadata.
func GRPCClientInterceptor(cfg ClientConfig) grpc.UnaryClientInterceptor {
	md := metadata.MD{}
	for k, v := range cfg.Headers {
		md.Set(k, v)
	}
	if a := cfg.authorization(); a != "" {
		md.Set("authorization", a)
	}

	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if len(md) > 0 {
			ctx = metadata.NewOutgoingContext(ctx, metadata.Join(md, outgoing(ctx)))
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func outgoing(ctx context.Context) metadata.MD {
	md, _ := metadata.FromOutgoingContext(ctx)
	return md
}

// HTTPTransport wraps base so that every request carries the credentials.
func HTTPTransport(cfg ClientConfig, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{base: base, cfg: cfg, authz: cfg.authorization()}
}

type authTransport struct {
	base  http.RoundTripper
	cfg   ClientConfig
	authz string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	for k, v := range t.cfg.Headers {
		clone.Header.Set(k, v)
	}
	if t.authz != "" {
		clone.Header.Set("Authorization", t.authz)
	}
	return t.base.RoundTrip(clone)
}
