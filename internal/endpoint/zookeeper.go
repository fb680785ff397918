package endpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/szibis/logship/internal/logging"
)

// ZooKeeperConfig configures resolution from a ZooKeeper node whose data is
// a properties document with a servers key.
type ZooKeeperConfig struct {
	// Servers are the ZooKeeper ensemble addresses.
	Servers []string
	// Path is the node holding the servers property.
	Path string
	// SessionTimeout is the ZooKeeper session timeout.
	SessionTimeout time.Duration
}

// znodeReader is the subset of *zk.Conn used by ZooKeeper.
type znodeReader interface {
	Get(path string) ([]byte, *zk.Stat, error)
	Close()
}

// ZooKeeper reads the endpoint list from a znode on every Resolve.
type ZooKeeper struct {
	cfg     ZooKeeperConfig
	connect func() (znodeReader, error)

	mu   sync.Mutex
	conn znodeReader
}

// NewZooKeeper creates a resolver. The session is opened lazily on the
// first Resolve and reopened after a read error.
func NewZooKeeper(cfg ZooKeeperConfig) (*ZooKeeper, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("zookeeper resolver: no servers configured")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return nil, fmt.Errorf("zookeeper resolver: path %q must be absolute", cfg.Path)
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Second
	}
	z := &ZooKeeper{cfg: cfg}
	z.connect = z.dial
	return z, nil
}

func (z *ZooKeeper) dial() (znodeReader, error) {
	conn, _, err := zk.Connect(z.cfg.Servers, z.cfg.SessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Endpoints reads and parses the node.
func (z *ZooKeeper) Endpoints(ctx context.Context) ([]Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if z.conn == nil {
		conn, err := z.connect()
		if err != nil {
			return nil, fmt.Errorf("connect zookeeper %v: %w", z.cfg.Servers, err)
		}
		z.conn = conn
	}

	data, _, err := z.conn.Get(z.cfg.Path)
	if err != nil {
		z.conn.Close()
		z.conn = nil
		return nil, fmt.Errorf("read zookeeper node %s: %w", z.cfg.Path, err)
	}
	return ParseServers(data, DefaultServers)
}

// Resolve reads the node and returns one listed endpoint at random.
func (z *ZooKeeper) Resolve(ctx context.Context) (Endpoint, error) {
	eps, err := z.Endpoints(ctx)
	if err == nil {
		var ep Endpoint
		ep, err = pick(eps)
		if err == nil {
			recordResolve("zookeeper", nil)
			return ep, nil
		}
	}
	recordResolve("zookeeper", err)
	return Endpoint{}, err
}

// Describe returns "zk:" followed by the node path.
func (z *ZooKeeper) Describe() string {
	return "zk:" + z.cfg.Path
}

// Close ends the ZooKeeper session.
func (z *ZooKeeper) Close() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.conn != nil {
		z.conn.Close()
		z.conn = nil
	}
}

// zkLogger routes the client's internal messages to debug logging.
type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	logging.Debug(fmt.Sprintf(format, args...), logging.F("component", "zookeeper", "operation", "resolve"))
}
