package transport

import (
	"context"

	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/scribe"
)

// ScribeDialer opens framed Thrift connections speaking the scribe Log call.
type ScribeDialer struct {
	cfg scribe.Config
}

// NewScribeDialer returns a dialer for scribe collectors.
func NewScribeDialer(cfg Config) *ScribeDialer {
	return &ScribeDialer{cfg: scribe.Config{
		SocketTimeout: cfg.SocketTimeout,
		MaxFrameSize:  cfg.MaxFrameSize,
	}}
}

// Protocol implements Dialer.
func (d *ScribeDialer) Protocol() Protocol { return ProtocolScribe }

// Dial implements Dialer. The dial is bounded by ctx.
func (d *ScribeDialer) Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	c, err := scribe.Dial(ctx, ep.String(), d.cfg)
	if err != nil {
		return nil, sendError(err, classifyError(err))
	}
	return &scribeConn{client: c}, nil
}

type scribeConn struct {
	client  *scribe.Client
	entries []*scribe.LogEntry
	backing []scribe.LogEntry
}

// Send implements Conn. Entry structs are reused between calls.
func (c *scribeConn) Send(ctx context.Context, category string, records []string) error {
	if cap(c.backing) < len(records) {
		c.backing = make([]scribe.LogEntry, len(records))
		c.entries = make([]*scribe.LogEntry, len(records))
	}
	c.backing = c.backing[:len(records)]
	c.entries = c.entries[:len(records)]
	for i, r := range records {
		c.backing[i] = scribe.LogEntry{Category: category, Message: r}
		c.entries[i] = &c.backing[i]
	}

	if err := c.client.Send(ctx, c.entries); err != nil {
		return sendError(err, classifyScribeError(err))
	}
	return nil
}

func (c *scribeConn) Close() error {
	return c.client.Close()
}
