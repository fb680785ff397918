package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"golang.org/x/net/http2"
	"google.golang.org/protobuf/proto"

	"github.com/szibis/logship/internal/auth"
	"github.com/szibis/logship/internal/compression"
	"github.com/szibis/logship/internal/endpoint"
	tlspkg "github.com/szibis/logship/internal/tls"
)

const defaultHTTPPath = "/v1/logs"

// HTTPDialer posts OTLP log requests as protobuf over HTTP. All connections
// share one http.Client and its keep-alive pool.
type HTTPDialer struct {
	client      *http.Client
	scheme      string
	path        string
	service     string
	compression compression.Config
}

// NewHTTPDialer builds the shared HTTP client.
func NewHTTPDialer(cfg Config) (*HTTPDialer, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	scheme := "http"
	if !cfg.Insecure {
		scheme = "https"
		if cfg.TLS.Enabled {
			tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
			if err != nil {
				return nil, fmt.Errorf("failed to create TLS config: %w", err)
			}
			transport.TLSClientConfig = tlsConfig
		} else {
			transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if _, err := http2.ConfigureTransports(transport); err != nil {
			return nil, fmt.Errorf("failed to configure http2: %w", err)
		}
	}

	var rt http.RoundTripper = transport
	if cfg.Auth.Enabled() {
		rt = auth.HTTPTransport(cfg.Auth, rt)
	}

	path := cfg.HTTPPath
	if path == "" {
		path = defaultHTTPPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}

	return &HTTPDialer{
		client:      &http.Client{Transport: rt},
		scheme:      scheme,
		path:        path,
		service:     service,
		compression: cfg.Compression,
	}, nil
}

// Protocol implements Dialer.
func (d *HTTPDialer) Protocol() Protocol { return ProtocolOTLPHTTP }

// Dial implements Dialer. HTTP connections are opened lazily by the client
// pool, so Dial only fixes the target URL; an unreachable collector surfaces
// on the first Send.
func (d *HTTPDialer) Dial(_ context.Context, ep endpoint.Endpoint) (Conn, error) {
	return &httpConn{dialer: d, url: d.scheme + "://" + ep.String() + d.path}, nil
}

type httpConn struct {
	dialer *HTTPDialer
	url    string
}

func (c *httpConn) Send(ctx context.Context, category string, records []string) error {
	req := buildLogsRequest(c.dialer.service, category, records, time.Now())
	body, err := proto.Marshal(req)
	if err != nil {
		return sendError(fmt.Errorf("failed to marshal request: %w", err), ErrorTypeClientError)
	}
	if c.dialer.compression.Enabled() {
		body, err = compression.Compress(body, c.dialer.compression)
		if err != nil {
			return sendError(fmt.Errorf("failed to compress request: %w", err), ErrorTypeClientError)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return sendError(fmt.Errorf("failed to create request: %w", err), ErrorTypeClientError)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	if enc := c.dialer.compression.Type.ContentEncoding(); enc != "" {
		httpReq.Header.Set("Content-Encoding", enc)
	}

	resp, err := c.dialer.client.Do(httpReq)
	if err != nil {
		return sendError(fmt.Errorf("failed to send request: %w", err), classifyError(err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
			Type:       classifyHTTPStatusCode(resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	var out collogspb.ExportLogsServiceResponse
	if len(respBody) > 0 && proto.Unmarshal(respBody, &out) == nil {
		logPartialSuccess(out.GetPartialSuccess(), category)
	}
	return nil
}

// Close releases idle connections held for this endpoint.
func (c *httpConn) Close() error {
	c.dialer.client.CloseIdleConnections()
	return nil
}
