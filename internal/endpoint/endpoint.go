// Package endpoint resolves the network address of the remote log collector.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"

	"github.com/szibis/logship/internal/logging"
)

const (
	// DefaultPort is the conventional scribe port.
	DefaultPort = 1463
	// DefaultServers is used when a servers property is missing.
	DefaultServers = "localhost:1463"
	// ServersKey is the property holding the comma-separated endpoint list.
	ServersKey = "servers"
)

// ErrNoEndpoints is returned when a resolver has no usable endpoint.
var ErrNoEndpoints = errors.New("no endpoints available")

// Endpoint is a collector address.
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolver chooses the endpoint to connect to. Resolve is called on every
// connection attempt, so implementations may return a different endpoint
// each time.
type Resolver interface {
	Resolve(ctx context.Context) (Endpoint, error)
	// Describe identifies the destination in pipeline keys and logs.
	Describe() string
}

// Parse parses "host:port".
func Parse(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: empty host", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port %q", s, portStr)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// ParseList parses "host1:port1,host2:port2". Invalid entries are logged
// and skipped.
func ParseList(s string) []Endpoint {
	var eps []Endpoint
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ep, err := Parse(part)
		if err != nil {
			logging.Warn("skipping invalid endpoint", logging.F("endpoint", part, "error", err.Error()))
			continue
		}
		eps = append(eps, ep)
	}
	return eps
}

// pick returns a random endpoint from eps.
func pick(eps []Endpoint) (Endpoint, error) {
	switch len(eps) {
	case 0:
		return Endpoint{}, ErrNoEndpoints
	case 1:
		return eps[0], nil
	default:
		return eps[rand.IntN(len(eps))], nil
	}
}

// Static resolves to a fixed set of endpoints.
type Static struct {
	endpoints []Endpoint
	desc      string
}

// NewStatic creates a resolver over eps.
func NewStatic(eps ...Endpoint) *Static {
	parts := make([]string, len(eps))
	for i, ep := range eps {
		parts[i] = ep.String()
	}
	return &Static{
		endpoints: append([]Endpoint(nil), eps...),
		desc:      strings.Join(parts, ","),
	}
}

// Resolve returns one of the configured endpoints at random.
func (s *Static) Resolve(context.Context) (Endpoint, error) {
	ep, err := pick(s.endpoints)
	recordResolve("static", err)
	return ep, err
}

// Describe returns the comma-separated endpoint list.
func (s *Static) Describe() string {
	return s.desc
}
