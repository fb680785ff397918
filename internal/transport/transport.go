// Package transport carries record batches from a pipeline to one collector
// endpoint. A Dialer opens a Conn to a resolved endpoint; the pipeline worker is
// the only goroutine that uses a Conn.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/szibis/logship/internal/auth"
	"github.com/szibis/logship/internal/compression"
	"github.com/szibis/logship/internal/endpoint"
	tlspkg "github.com/szibis/logship/internal/tls"
)

// Protocol selects the wire format used towards the collector.
type Protocol string

const (
	// ProtocolScribe sends Thrift Log calls over a framed TCP connection.
	ProtocolScribe Protocol = "scribe"
	// ProtocolOTLPGRPC exports OTLP logs over gRPC.
	ProtocolOTLPGRPC Protocol = "otlp-grpc"
	// ProtocolOTLPHTTP posts OTLP logs as protobuf over HTTP.
	ProtocolOTLPHTTP Protocol = "otlp-http"
)

// ParseProtocol parses a protocol name. Empty means scribe.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProtocolScribe:
		return ProtocolScribe, nil
	case ProtocolOTLPGRPC, "grpc", "otlp":
		return ProtocolOTLPGRPC, nil
	case ProtocolOTLPHTTP, "http":
		return ProtocolOTLPHTTP, nil
	default:
		return "", fmt.Errorf("unsupported protocol: %s", s)
	}
}

// Conn is an open connection to a collector.
type Conn interface {
	// Send delivers records under category as one request. The records slice
	// is only valid for the duration of the call.
	Send(ctx context.Context, category string, records []string) error
	Close() error
}

// Dialer opens connections to resolved endpoints.
type Dialer interface {
	Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error)
	Protocol() Protocol
}

// Config holds the settings shared by all dialers.
type Config struct {
	Protocol Protocol
	// Insecure disables TLS for the OTLP protocols.
	Insecure bool
	// SocketTimeout bounds reads and writes on scribe connections.
	SocketTimeout time.Duration
	// MaxFrameSize limits scribe response frames.
	MaxFrameSize int32
	// HTTPPath is appended to OTLP/HTTP endpoints (default /v1/logs).
	HTTPPath string
	// ServiceName is reported as the OTLP resource service.name.
	ServiceName string
	TLS         tlspkg.ClientConfig
	Auth        auth.ClientConfig
	// Compression applies to OTLP/HTTP request bodies.
	Compression compression.Config
}

// NewDialer returns the dialer for cfg.Protocol.
func NewDialer(cfg Config) (Dialer, error) {
	switch cfg.Protocol {
	case "", ProtocolScribe:
		return NewScribeDialer(cfg), nil
	case ProtocolOTLPGRPC:
		return NewOTLPDialer(cfg)
	case ProtocolOTLPHTTP:
		return NewHTTPDialer(cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
}
