package scribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/apache/thrift/lib/go/thrift"
)

// ErrTryLater is returned when the collector asks the client to retry later.
var ErrTryLater = errors.New("scribe: collector answered TRY_LATER")

// DefaultSocketTimeout applies when Config.SocketTimeout is zero.
const DefaultSocketTimeout = 5 * time.Second

// Config holds connection settings.
type Config struct {
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration
	// SocketTimeout bounds each read and write on the connection. A call
	// whose context expires sooner uses the remaining time instead.
	SocketTimeout time.Duration
	// MaxFrameSize limits frames read from the collector.
	MaxFrameSize int32
}

// Client is a framed binary-protocol connection to one collector.
// A Client is not safe for concurrent use.
type Client struct {
	sock      *thrift.TSocket
	timeout   time.Duration
	transport thrift.TTransport
	client    *thrift.TStandardClient
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, cfg), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, cfg Config) *Client {
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = DefaultSocketTimeout
	}
	conf := &thrift.TConfiguration{
		ConnectTimeout: cfg.ConnectTimeout,
		SocketTimeout:  cfg.SocketTimeout,
		MaxFrameSize:   cfg.MaxFrameSize,
	}
	sock := thrift.NewTSocketFromConnConf(conn, conf)
	framed := thrift.NewTFramedTransportConf(sock, conf)
	proto := thrift.NewTBinaryProtocolConf(framed, conf)
	return &Client{
		sock:      sock,
		timeout:   cfg.SocketTimeout,
		transport: framed,
		client:    thrift.NewTStandardClient(proto, proto),
	}
}

// Log sends entries in one call and returns the collector's result code.
func (c *Client) Log(ctx context.Context, entries []*LogEntry) (ResultCode, error) {
	// TSocket ignores ctx, so its per-operation timeout carries the deadline.
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, context.DeadlineExceeded
		}
		if left < timeout {
			timeout = left
		}
	}
	if err := c.sock.SetSocketTimeout(timeout); err != nil {
		return 0, err
	}

	args := LogArgs{Messages: entries}
	var result LogResult
	if _, err := c.client.Call(ctx, "Log", &args, &result); err != nil {
		return 0, err
	}
	if result.Success == nil {
		return 0, thrift.NewTApplicationException(thrift.MISSING_RESULT, "Log failed: unknown result")
	}
	return *result.Success, nil
}

// Send is Log that treats any result other than OK as an error.
func (c *Client) Send(ctx context.Context, entries []*LogEntry) error {
	code, err := c.Log(ctx, entries)
	if err != nil {
		return err
	}
	switch code {
	case ResultCodeOK:
		return nil
	case ResultCodeTryLater:
		return ErrTryLater
	default:
		return fmt.Errorf("scribe: unexpected result %s", code)
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.transport.Close()
}
