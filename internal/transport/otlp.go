package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/szibis/logship/internal/auth"
	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/logging"
	"github.com/szibis/logship/internal/record"
	tlspkg "github.com/szibis/logship/internal/tls"
)

const (
	defaultServiceName = "logship"
	scopeName          = "github.com/szibis/logship"
	categoryAttr       = "log.category"
)

// buildLogsRequest wraps records into a single OTLP export request.
func buildLogsRequest(service, category string, records []string, now time.Time) *collogspb.ExportLogsServiceRequest {
	ts := uint64(now.UnixNano())
	logRecords := make([]*logspb.LogRecord, len(records))
	for i, r := range records {
		logRecords[i] = &logspb.LogRecord{
			TimeUnixNano:         ts,
			ObservedTimeUnixNano: ts,
			SeverityNumber:       logspb.SeverityNumber_SEVERITY_NUMBER_INFO,
			SeverityText:         "INFO",
			Body:                 stringValue(r),
			Attributes:           []*commonpb.KeyValue{{Key: categoryAttr, Value: stringValue(category)}},
		}
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
				{Key: "service.name", Value: stringValue(service)},
				{Key: "host.name", Value: stringValue(record.LocalHost())},
			}},
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      &commonpb.InstrumentationScope{Name: scopeName},
				LogRecords: logRecords,
			}},
		}},
	}
}

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func logPartialSuccess(ps *collogspb.ExportLogsPartialSuccess, category string) {
	if ps == nil || ps.GetRejectedLogRecords() == 0 {
		return
	}
	if logging.Allow("otlp-partial:"+category, 10*time.Second) {
		logging.Warn("collector rejected part of a send", logging.F(
			"category", category,
			"rejected", ps.GetRejectedLogRecords(),
			"error", ps.GetErrorMessage(),
		))
	}
}

// OTLPDialer exports records as OTLP logs over gRPC.
type OTLPDialer struct {
	service string
	opts    []grpc.DialOption
}

// NewOTLPDialer builds the gRPC dial options once.
func NewOTLPDialer(cfg Config) (*OTLPDialer, error) {
	var opts []grpc.DialOption

	switch {
	case cfg.Insecure:
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	case cfg.TLS.Enabled:
		tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	default:
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	if cfg.Auth.Enabled() {
		opts = append(opts, grpc.WithUnaryInterceptor(auth.GRPCClientInterceptor(cfg.Auth)))
	}

	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}
	return &OTLPDialer{service: service, opts: opts}, nil
}

// Protocol implements Dialer.
func (d *OTLPDialer) Protocol() Protocol { return ProtocolOTLPGRPC }

// Dial implements Dialer. It waits until the channel is ready or ctx ends so
// that an unreachable collector fails the connect step, not the first send.
func (d *OTLPDialer) Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	cc, err := grpc.NewClient(ep.String(), d.opts...)
	if err != nil {
		return nil, sendError(err, ErrorTypeClientError)
	}

	cc.Connect()
	for {
		state := cc.GetState()
		if state == connectivity.Ready {
			break
		}
		if !cc.WaitForStateChange(ctx, state) {
			_ = cc.Close()
			return nil, sendError(fmt.Errorf("connect %s: %w (last state %s)", ep, ctx.Err(), state), ErrorTypeNetwork)
		}
	}

	return &otlpConn{
		service: d.service,
		cc:      cc,
		client:  collogspb.NewLogsServiceClient(cc),
	}, nil
}

type otlpConn struct {
	service string
	cc      *grpc.ClientConn
	client  collogspb.LogsServiceClient
}

func (c *otlpConn) Send(ctx context.Context, category string, records []string) error {
	req := buildLogsRequest(c.service, category, records, time.Now())
	resp, err := c.client.Export(ctx, req)
	if err != nil {
		return sendError(err, classifyGRPCError(err))
	}
	logPartialSuccess(resp.GetPartialSuccess(), category)
	return nil
}

func (c *otlpConn) Close() error {
	return c.cc.Close()
}
