// Package pipeline ships text records to a log collector in batches.
//
// Producers hand records to a Pipeline with Submit, which never blocks. One
// worker goroutine per pipeline drains the queue into a batch, flushes the
// batch when it is full or has waited long enough, and reconnects with a
// counting backoff when the collector is unreachable. Delivery is at most
// once: a batch that fails to send is dropped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/logging"
	"github.com/szibis/logship/internal/queue"
	"github.com/szibis/logship/internal/transport"
)

// Defaults for Options.
const (
	DefaultBatchSize       = 1000
	DefaultBatchInterval   = 100 * time.Millisecond
	DefaultConnectTimeout  = 5 * time.Second
	DefaultSendTimeout     = 5 * time.Second
	DefaultShutdownTimeout = 5 * time.Second

	// flushPeriodFactor sets the default flush ticker period relative to
	// BatchInterval.
	flushPeriodFactor = 5

	syncQueueSize = 64
)

// Options configures a Pipeline.
type Options struct {
	// Category tags every record of the pipeline.
	Category string
	// Resolver picks the collector endpoint on every connect.
	Resolver endpoint.Resolver
	// Dialer opens connections to resolved endpoints.
	Dialer transport.Dialer

	QueueCapacity   int
	BatchSize       int
	BatchInterval   time.Duration
	FlushPeriod     time.Duration
	ConnectTimeout  time.Duration
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration
	RetryMin        int
	RetryMax        int
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity == 0 {
		o.QueueCapacity = queue.DefaultCapacity
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchInterval == 0 {
		o.BatchInterval = DefaultBatchInterval
	}
	if o.FlushPeriod == 0 {
		o.FlushPeriod = flushPeriodFactor * o.BatchInterval
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.RetryMin == 0 {
		o.RetryMin = DefaultRetryMin
	}
	if o.RetryMax == 0 {
		o.RetryMax = DefaultRetryMax
	}
	return o
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// Validate reports the first invalid option after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch {
	case o.Category == "":
		return errors.New("category is required")
	case o.Resolver == nil:
		return errors.New("resolver is required")
	case o.Dialer == nil:
		return errors.New("dialer is required")
	}
	return o.ValidateTuning()
}

// ValidateTuning checks the sizing, timing and retry options only, after
// defaults are applied.
func (o Options) ValidateTuning() error {
	o = o.withDefaults()
	switch {
	case !isPowerOfTwo(o.QueueCapacity):
		return fmt.Errorf("queue capacity %d: %w", o.QueueCapacity, queue.ErrCapacity)
	case o.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	case o.BatchInterval < 0 || o.FlushPeriod < 0:
		return errors.New("batch interval and flush period must be positive")
	case o.ConnectTimeout < 0 || o.SendTimeout < 0 || o.ShutdownTimeout < 0:
		return errors.New("timeouts must be positive")
	case !isPowerOfTwo(o.RetryMin) || !isPowerOfTwo(o.RetryMax):
		return fmt.Errorf("retry bounds must be powers of two, got [%d, %d]", o.RetryMin, o.RetryMax)
	case o.RetryMax < o.RetryMin:
		return fmt.Errorf("retry max %d is below min %d", o.RetryMax, o.RetryMin)
	}
	return nil
}

// Key identifies the pipeline in a Registry.
func (o Options) Key() string {
	if o.Resolver == nil {
		return o.Category + "@"
	}
	return Key(o.Category, o.Resolver.Describe())
}

// Key joins a category and a destination descriptor.
func Key(category, destination string) string {
	return category + "@" + destination
}

// Pipeline is one running category-to-collector delivery pipeline.
type Pipeline struct {
	key     string
	opts    Options
	ring    *queue.Ring
	metrics *pipelineMetrics
	worker  *worker
	ticker  *ticker

	connected atomic.Bool
	failing   atomic.Bool

	// wake nudges an idle worker; capacity one, sends never block.
	wake    chan struct{}
	syncReq chan *syncRequest
	done    chan struct{}

	closeOnce sync.Once
}

// New validates opts and starts the worker and flush ticker.
func New(opts Options) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	ring, err := queue.NewRing(opts.QueueCapacity)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		key:     opts.Key(),
		opts:    opts,
		ring:    ring,
		wake:    make(chan struct{}, 1),
		syncReq: make(chan *syncRequest, syncQueueSize),
		done:    make(chan struct{}),
	}
	p.metrics = newPipelineMetrics(p.key)
	p.worker = newWorker(p)
	p.ticker = startTicker(opts.FlushPeriod, p.publishFlush)

	go p.worker.run()

	logging.Info("pipeline started", logging.F(
		"pipeline", p.key,
		"protocol", string(opts.Dialer.Protocol()),
		"batch_size", opts.BatchSize,
		"batch_interval", opts.BatchInterval.String(),
		"queue_capacity", opts.QueueCapacity,
	))
	return p, nil
}

// Key returns category@destination.
func (p *Pipeline) Key() string { return p.key }

// Category returns the pipeline's record category.
func (p *Pipeline) Category() string { return p.opts.Category }

// Connected reports whether the worker currently holds a connection.
func (p *Pipeline) Connected() bool { return p.connected.Load() }

// Healthy is false while the latest flush cycle ended without a
// connection. A pipeline that has not flushed yet is healthy.
func (p *Pipeline) Healthy() bool { return !p.failing.Load() }

// QueueLen is the number of records waiting for the worker.
func (p *Pipeline) QueueLen() int { return p.ring.Len() }

// Submit hands payload to the worker. It never blocks and returns false
// when the queue is full or the pipeline is shut down.
func (p *Pipeline) Submit(payload string) bool {
	if p.ring.TryPublish(queue.Record{Category: p.opts.Category, Payload: payload}) {
		return true
	}
	p.metrics.queueDrops.Inc()
	if logging.Allow("queue-drop:"+p.key, 10*time.Second) {
		logging.Warn("record dropped, queue full or closed", logging.F("pipeline", p.key, "capacity", p.ring.Cap()))
	}
	return false
}

type syncRequest struct {
	payload string
	result  chan bool
}

// SubmitSync sends payload on its own over the current connection and
// reports whether the collector accepted it. It skips the queue, so it may
// overtake queued records. A disconnected pipeline reconnects first when
// the reconnect backoff allows it and otherwise returns false.
func (p *Pipeline) SubmitSync(ctx context.Context, payload string) bool {
	req := &syncRequest{payload: payload, result: make(chan bool, 1)}
	select {
	case p.syncReq <- req:
	case <-p.done:
		return false
	case <-ctx.Done():
		return false
	}
	p.nudge()

	select {
	case ok := <-req.result:
		return ok
	case <-p.done:
		select {
		case ok := <-req.result:
			return ok
		default:
			return false
		}
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// publishFlush injects the flush-now sentinel. A full queue drops it.
func (p *Pipeline) publishFlush() {
	if p.ring.TryPublish(queue.FlushRecord()) {
		p.nudge()
	}
}

// Shutdown stops the pipeline: the ticker stops, the queue stops accepting
// records, the worker drains what was queued, makes one last flush attempt
// and closes the connection. Delivery failures are logged, not returned;
// the error only reports that ctx, or ShutdownTimeout when ctx has no
// deadline, expired first. Shutdown is safe to call more than once.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.ShutdownWith(ctx, "")
}

// ShutdownWith is Shutdown that first queues final as the last record.
func (p *Pipeline) ShutdownWith(ctx context.Context, final string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ShutdownTimeout)
		defer cancel()
	}

	p.closeOnce.Do(func() {
		p.ticker.stop()
		if final != "" {
			p.Submit(final)
		}
		p.ring.Close()
		p.nudge()
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		logging.Warn("pipeline shutdown timed out", logging.F("pipeline", p.key, "pending", p.ring.Len()))
		return fmt.Errorf("shutdown %s: %w", p.key, ctx.Err())
	}
}
