package endpoint

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"
)

// HostLookup is the DNS lookup used by DNS (allows mocking in tests).
type HostLookup interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSConfig configures DNS-based resolution.
type DNSConfig struct {
	// Name is "host:port"; every address of host is a candidate.
	// A missing port defaults to DefaultPort.
	Name string
	// Timeout bounds a single lookup.
	Timeout time.Duration
}

// DNS resolves a name to all of its addresses and picks one at random.
type DNS struct {
	host    string
	port    int
	timeout time.Duration
	lookup  HostLookup
}

// NewDNS creates a DNS resolver. A nil lookup uses net.DefaultResolver.
func NewDNS(cfg DNSConfig, lookup HostLookup) (*DNS, error) {
	host, port, err := splitName(cfg.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &DNS{host: host, port: port, timeout: cfg.Timeout, lookup: lookup}, nil
}

func splitName(name string) (string, int, error) {
	if name == "" {
		return "", 0, fmt.Errorf("dns resolver: empty name")
	}
	if _, _, err := net.SplitHostPort(name); err != nil {
		return name, DefaultPort, nil
	}
	ep, err := Parse(name)
	if err != nil {
		return "", 0, fmt.Errorf("dns resolver: %w", err)
	}
	return ep.Host, ep.Port, nil
}

// Endpoints looks up all current endpoints, sorted for stable output.
func (d *DNS) Endpoints(ctx context.Context) ([]Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	addrs, err := d.lookup.LookupHost(ctx, d.host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", d.host, err)
	}
	sort.Strings(addrs)
	eps := make([]Endpoint, 0, len(addrs))
	for _, a := range addrs {
		if a == "" {
			continue
		}
		eps = append(eps, Endpoint{Host: a, Port: d.port})
	}
	return eps, nil
}

// Resolve looks the name up and returns one address at random.
func (d *DNS) Resolve(ctx context.Context) (Endpoint, error) {
	eps, err := d.Endpoints(ctx)
	if err == nil {
		var ep Endpoint
		ep, err = pick(eps)
		if err == nil {
			recordResolve("dns", nil)
			return ep, nil
		}
	}
	recordResolve("dns", err)
	return Endpoint{}, err
}

// Describe returns "dns:host:port".
func (d *DNS) Describe() string {
	return "dns:" + Endpoint{Host: d.host, Port: d.port}.String()
}
