package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/transport"
)

// ErrNotConnected is returned by Send when there is no live connection.
var ErrNotConnected = errors.New("not connected")

// Client owns at most one collector connection. It never reconnects on its
// own: a failed Send drops the connection and the caller must Connect again.
// Client is confined to the delivery worker.
type Client struct {
	category       string
	resolver       endpoint.Resolver
	dialer         transport.Dialer
	connectTimeout time.Duration
	sendTimeout    time.Duration

	conn     transport.Conn
	endpoint endpoint.Endpoint
}

// NewClient returns a disconnected client.
func NewClient(category string, resolver endpoint.Resolver, dialer transport.Dialer, connectTimeout, sendTimeout time.Duration) *Client {
	return &Client{
		category:       category,
		resolver:       resolver,
		dialer:         dialer,
		connectTimeout: connectTimeout,
		sendTimeout:    sendTimeout,
	}
}

// Connected reports whether a connection is held.
func (c *Client) Connected() bool { return c.conn != nil }

// Endpoint is the endpoint of the current connection.
func (c *Client) Endpoint() endpoint.Endpoint { return c.endpoint }

// Connect resolves an endpoint and dials it, replacing any previous
// connection. On failure the client is left disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.Close()

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	ep, err := c.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.resolver.Describe(), err)
	}
	conn, err := c.dialer.Dial(ctx, ep)
	if err != nil {
		return fmt.Errorf("dial %s: %w", ep, err)
	}
	c.conn = conn
	c.endpoint = ep
	return nil
}

// Send delivers batch over the current connection. Any failure closes
// the connection.
func (c *Client) Send(ctx context.Context, batch []string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	if err := c.conn.Send(ctx, c.category, batch); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Close drops the connection, if any.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.endpoint = endpoint.Endpoint{}
}
