package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/transport"
)

// fakeDialer records delivered batches and fails on demand.
type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	dialErr   error
	failSends int
	sends     int
	batches   [][]string
	gate      chan struct{} // Dial waits on gate when non-nil
	dialed    chan struct{}
	delivered chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dialed:    make(chan struct{}, 1024),
		delivered: make(chan struct{}, 1024),
	}
}

func (d *fakeDialer) Protocol() transport.Protocol { return "fake" }

func (d *fakeDialer) Dial(ctx context.Context, _ endpoint.Endpoint) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate, err := d.gate, d.dialErr
	d.mu.Unlock()
	d.dialed <- struct{}{}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeConn{d: d}, nil
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *fakeDialer) failNextSends(n int) {
	d.mu.Lock()
	d.failSends = n
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Sends() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sends
}

func (d *fakeDialer) Batches() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]string, len(d.batches))
	copy(out, d.batches)
	return out
}

func (d *fakeDialer) Records() []string {
	var out []string
	for _, b := range d.Batches() {
		out = append(out, b...)
	}
	return out
}

type fakeConn struct {
	d      *fakeDialer
	closed bool
}

func (c *fakeConn) Send(_ context.Context, _ string, records []string) error {
	if c.closed {
		return errors.New("use of closed connection")
	}
	c.d.mu.Lock()
	c.d.sends++
	if c.d.failSends > 0 {
		c.d.failSends--
		c.d.mu.Unlock()
		return &transport.SendError{Err: errors.New("connection reset"), Type: transport.ErrorTypeNetwork}
	}
	c.d.batches = append(c.d.batches, append([]string(nil), records...))
	c.d.mu.Unlock()
	c.d.delivered <- struct{}{}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

var testEndpoint = endpoint.Endpoint{Host: "collector", Port: 1463}

// testOptions disables the time triggers so tests control flushing.
func testOptions(t *testing.T, d transport.Dialer) Options {
	return Options{
		Category:      strings.ReplaceAll(t.Name(), "/", "_"),
		Resolver:      endpoint.NewStatic(testEndpoint),
		Dialer:        d,
		BatchSize:     4,
		BatchInterval: time.Hour,
		FlushPeriod:   time.Hour,
	}
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func shutdown(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error = %v", err)
	}
}

func TestOptions_Validate(t *testing.T) {
	d := newFakeDialer()
	base := Options{Category: "usage", Resolver: endpoint.NewStatic(testEndpoint), Dialer: d}

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"no category", func(o *Options) { o.Category = "" }, true},
		{"no resolver", func(o *Options) { o.Resolver = nil }, true},
		{"no dialer", func(o *Options) { o.Dialer = nil }, true},
		{"queue not power of two", func(o *Options) { o.QueueCapacity = 1000 }, true},
		{"negative batch", func(o *Options) { o.BatchSize = -1 }, true},
		{"retry not power of two", func(o *Options) { o.RetryMax = 100 }, true},
		{"retry inverted", func(o *Options) { o.RetryMin, o.RetryMax = 8, 2 }, true},
		{"negative timeout", func(o *Options) { o.SendTimeout = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			if err := o.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{BatchInterval: 40 * time.Millisecond}.withDefaults()
	if o.FlushPeriod != 200*time.Millisecond {
		t.Errorf("FlushPeriod = %v, want 5x interval", o.FlushPeriod)
	}
	o = Options{}.withDefaults()
	if o.BatchSize != 1000 || o.BatchInterval != 100*time.Millisecond || o.QueueCapacity != 4096 {
		t.Errorf("unexpected defaults %+v", o)
	}
	if o.RetryMin != 1 || o.RetryMax != 256 {
		t.Errorf("retry defaults = [%d, %d]", o.RetryMin, o.RetryMax)
	}
}

func TestKey(t *testing.T) {
	o := Options{Category: "usage", Resolver: endpoint.NewStatic(testEndpoint)}
	if got := o.Key(); got != "usage@collector:1463" {
		t.Errorf("Key() = %q", got)
	}
}

func TestPipeline_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 7
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	var want []string
	for i := 0; i < 100; i++ {
		rec := fmt.Sprintf("rec-%03d", i)
		if !p.Submit(rec) {
			t.Fatalf("Submit(%q) rejected", rec)
		}
		want = append(want, rec)
	}
	shutdown(t, p)

	if got := d.Records(); !reflect.DeepEqual(got, want) {
		t.Fatalf("delivered %d records out of order or duplicated:\n%v", len(got), got)
	}
	for i, b := range d.Batches() {
		if len(b) > opts.BatchSize {
			t.Errorf("batch %d has %d records, above batch size", i, len(b))
		}
	}
}

func TestPipeline_FullBatchFlush(t *testing.T) {
	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 10
	p := newTestPipeline(t, opts)

	for i := 0; i < 10; i++ {
		p.Submit(fmt.Sprint(i))
	}
	waitSignal(t, d.delivered, "full batch")

	if b := d.Batches(); len(b) != 1 || len(b[0]) != 10 {
		t.Fatalf("expected one batch of 10, got %v", b)
	}
	if got := testutil.ToFloat64(fullBatchFlushesTotal.WithLabelValues(p.Key())); got != 1 {
		t.Errorf("full batch flushes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(delayedBatchFlushesTotal.WithLabelValues(p.Key())); got != 0 {
		t.Errorf("delayed batch flushes = %v, want 0", got)
	}
}

func TestPipeline_TickerFlushesPartialBatch(t *testing.T) {
	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 1000
	opts.FlushPeriod = 50 * time.Millisecond
	p := newTestPipeline(t, opts)

	start := time.Now()
	for _, r := range []string{"a", "b", "c"} {
		p.Submit(r)
	}
	waitFor(t, func() bool { return len(d.Records()) == 3 }, "ticker flush")

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("partial batch took %v to flush", elapsed)
	}
	if got := d.Records(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("delivered %v", got)
	}
	if got := testutil.ToFloat64(delayedBatchFlushesTotal.WithLabelValues(p.Key())); got < 1 {
		t.Errorf("delayed batch flushes = %v, want at least 1", got)
	}
}

func TestPipeline_IntervalTrigger(t *testing.T) {
	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 1000
	opts.BatchInterval = 20 * time.Millisecond
	opts.FlushPeriod = time.Hour
	p := newTestPipeline(t, opts)

	// the worker started more than one interval ago, so the first record
	// flushes on arrival
	time.Sleep(40 * time.Millisecond)
	p.Submit("late")
	waitSignal(t, d.delivered, "interval flush")

	if got := d.Records(); !reflect.DeepEqual(got, []string{"late"}) {
		t.Errorf("delivered %v", got)
	}
}

func TestPipeline_SendFailureReconnects(t *testing.T) {
	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 1
	p := newTestPipeline(t, opts)

	p.Submit("first")
	waitSignal(t, d.delivered, "first batch")
	if d.Dials() != 1 || !p.Connected() {
		t.Fatalf("expected one dial and a live connection, dials=%d", d.Dials())
	}

	d.failNextSends(1)
	p.Submit("second")
	waitSignal(t, d.delivered, "second batch")

	// the failed send dropped the connection; the batch went out on a new one
	if d.Dials() != 2 {
		t.Errorf("dials = %d, want 2", d.Dials())
	}
	if d.Sends() != 3 {
		t.Errorf("sends = %d, want 3", d.Sends())
	}
	if got := d.Records(); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("delivered %v", got)
	}
	key := p.Key()
	if got := testutil.ToFloat64(sendFailuresTotal.WithLabelValues(key, "network")); got != 1 {
		t.Errorf("send failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reconnectSuccessTotal.WithLabelValues(key)); got != 2 {
		t.Errorf("reconnect success = %v, want 2", got)
	}
}

func TestPipeline_FailedBatchIsDropped(t *testing.T) {
	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 1
	p := newTestPipeline(t, opts)

	p.Submit("first")
	waitSignal(t, d.delivered, "first batch")

	// both the send and the send after reconnect fail
	d.failNextSends(2)
	p.Submit("lost")
	waitFor(t, func() bool { return d.Sends() == 3 }, "failed sends")
	waitFor(t, func() bool { return !p.Healthy() }, "unhealthy after a failed cycle")
	if p.Connected() {
		t.Error("connection should be dropped")
	}

	// threshold is now 2: the next cycle only counts a failure, the one
	// after reconnects and delivers
	p.Submit("skipped")
	p.Submit("third")
	waitSignal(t, d.delivered, "third batch")

	if got := d.Records(); !reflect.DeepEqual(got, []string{"first", "third"}) {
		t.Errorf("delivered %v", got)
	}
	if d.Dials() != 3 {
		t.Errorf("dials = %d, want 3", d.Dials())
	}
	waitFor(t, p.Healthy, "healthy after a successful reconnect")
}

func TestPipeline_BackoffWhileUnreachable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := newFakeDialer()
	d.setDialErr(errors.New("connection refused"))
	opts := testOptions(t, d)
	opts.BatchSize = 1
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 15; i++ {
		if !p.Submit(fmt.Sprint(i)) {
			t.Fatal("Submit rejected")
		}
	}
	shutdown(t, p)

	// thresholds 1, 2, 4, 8: attempts on cycles 1, 3, 7 and 15
	if d.Dials() != 4 {
		t.Errorf("dials = %d, want 4", d.Dials())
	}
	key := p.Key()
	if got := testutil.ToFloat64(reconnectAttemptsTotal.WithLabelValues(key)); got != 4 {
		t.Errorf("reconnect attempts = %v, want 4", got)
	}
	if got := testutil.ToFloat64(reconnectFailuresTotal.WithLabelValues(key)); got != 4 {
		t.Errorf("reconnect failures = %v, want 4", got)
	}
	if len(d.Batches()) != 0 {
		t.Errorf("nothing should be delivered, got %v", d.Batches())
	}
}

func TestPipeline_QueueFullRejects(t *testing.T) {
	d := newFakeDialer()
	d.gate = make(chan struct{})
	opts := testOptions(t, d)
	opts.BatchSize = 1
	opts.QueueCapacity = 2
	p := newTestPipeline(t, opts)

	p.Submit("r0")
	waitSignal(t, d.dialed, "dial") // worker is now blocked connecting

	if !p.Submit("r1") || !p.Submit("r2") {
		t.Fatal("queue should accept up to capacity")
	}
	if p.Submit("r3") {
		t.Fatal("Submit on a full queue must return false")
	}
	if got := testutil.ToFloat64(queueDropsTotal.WithLabelValues(p.Key())); got != 1 {
		t.Errorf("queue drops = %v, want 1", got)
	}

	close(d.gate)
	shutdown(t, p)
	if got := d.Records(); !reflect.DeepEqual(got, []string{"r0", "r1", "r2"}) {
		t.Errorf("delivered %v, want queued records untouched", got)
	}
}

func TestPipeline_ShutdownDrainsBuffered(t *testing.T) {
	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 4
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	for _, r := range []string{"w", "x", "y", "z"} {
		p.Submit(r)
	}
	waitSignal(t, d.delivered, "first batch")

	for _, r := range []string{"a", "b", "c"} {
		p.Submit(r)
	}
	sendsBefore := d.Sends()
	shutdown(t, p)

	if d.Sends()-sendsBefore != 1 {
		t.Errorf("expected exactly one send at shutdown, got %d", d.Sends()-sendsBefore)
	}
	b := d.Batches()
	if len(b) != 2 || !reflect.DeepEqual(b[1], []string{"a", "b", "c"}) {
		t.Errorf("batches = %v", b)
	}
	if p.Connected() {
		t.Error("connection should be closed after shutdown")
	}
}

func TestPipeline_ShutdownWith(t *testing.T) {
	d := newFakeDialer()
	p := newTestPipeline(t, testOptions(t, d))

	p.Submit("a")
	if err := p.ShutdownWith(context.Background(), "bye"); err != nil {
		t.Fatal(err)
	}
	if got := d.Records(); !reflect.DeepEqual(got, []string{"a", "bye"}) {
		t.Errorf("delivered %v", got)
	}
}

func TestPipeline_ShutdownIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := New(testOptions(t, newFakeDialer()))
	if err != nil {
		t.Fatal(err)
	}
	shutdown(t, p)
	shutdown(t, p)

	if p.Submit("late") {
		t.Error("Submit after shutdown must be rejected")
	}
	if p.SubmitSync(context.Background(), "late") {
		t.Error("SubmitSync after shutdown must fail")
	}
}

func TestPipeline_ShutdownTimeout(t *testing.T) {
	d := newFakeDialer()
	d.gate = make(chan struct{})
	opts := testOptions(t, d)
	opts.BatchSize = 1
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	p.Submit("stuck")
	waitSignal(t, d.dialed, "dial")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown error = %v, want deadline exceeded", err)
	}

	close(d.gate)
	shutdown(t, p)
}

func TestPipeline_SubmitSync(t *testing.T) {
	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 1
	p := newTestPipeline(t, opts)
	ctx := context.Background()

	// sync-only input connects on its own
	if !p.SubmitSync(ctx, "first") {
		t.Fatal("SubmitSync must connect a fresh pipeline")
	}
	<-d.delivered
	if d.Dials() != 1 || !p.Connected() {
		t.Fatalf("dials = %d connected = %v", d.Dials(), p.Connected())
	}

	p.Submit("async")
	waitSignal(t, d.delivered, "async batch")

	if !p.SubmitSync(ctx, "sync") {
		t.Fatal("SubmitSync failed on a live connection")
	}
	<-d.delivered
	if got := d.Records(); !reflect.DeepEqual(got, []string{"first", "async", "sync"}) {
		t.Errorf("delivered %v", got)
	}

	d.failNextSends(1)
	if p.SubmitSync(ctx, "broken") {
		t.Error("SubmitSync should report the failed send")
	}
	if p.Connected() {
		t.Error("a failed sync send must drop the connection")
	}

	if !p.SubmitSync(ctx, "again") {
		t.Fatal("SubmitSync should reconnect after a dropped connection")
	}
	<-d.delivered
	if d.Dials() != 2 {
		t.Errorf("dials = %d, want 2", d.Dials())
	}

	key := p.Key()
	if got := testutil.ToFloat64(syncSendsTotal.WithLabelValues(key, "ok")); got != 3 {
		t.Errorf("sync ok = %v", got)
	}
	if got := testutil.ToFloat64(syncSendsTotal.WithLabelValues(key, "fail")); got != 1 {
		t.Errorf("sync fail = %v", got)
	}
	if got := testutil.ToFloat64(syncSendsTotal.WithLabelValues(key, "not_connected")); got != 0 {
		t.Errorf("sync not_connected = %v", got)
	}
	if got := testutil.ToFloat64(reconnectSuccessTotal.WithLabelValues(key)); got != 2 {
		t.Errorf("reconnect success = %v", got)
	}
}

func TestPipeline_SubmitSyncBackoff(t *testing.T) {
	d := newFakeDialer()
	d.setDialErr(errors.New("connection refused"))
	opts := testOptions(t, d)
	p := newTestPipeline(t, opts)
	ctx := context.Background()

	// threshold 1: connect and fail, threshold 2: skip once, then connect
	for i := 0; i < 3; i++ {
		if p.SubmitSync(ctx, "x") {
			t.Fatalf("call %d: SubmitSync succeeded without a collector", i)
		}
	}
	if d.Dials() != 2 {
		t.Errorf("dials = %d, want 2", d.Dials())
	}
	if p.Healthy() {
		t.Error("pipeline should be unhealthy")
	}

	key := p.Key()
	if got := testutil.ToFloat64(syncSendsTotal.WithLabelValues(key, "not_connected")); got != 3 {
		t.Errorf("sync not_connected = %v", got)
	}
	if got := testutil.ToFloat64(reconnectFailuresTotal.WithLabelValues(key)); got != 2 {
		t.Errorf("reconnect failures = %v", got)
	}

	d.setDialErr(nil)
	waitFor(t, func() bool { return p.SubmitSync(ctx, "y") }, "sync delivery after recovery")
	if got := d.Records(); !reflect.DeepEqual(got, []string{"y"}) {
		t.Errorf("delivered %v", got)
	}
}

func TestPipeline_SubmitSyncContext(t *testing.T) {
	d := newFakeDialer()
	d.gate = make(chan struct{})
	opts := testOptions(t, d)
	opts.BatchSize = 1
	p := newTestPipeline(t, opts)

	p.Submit("r")
	waitSignal(t, d.dialed, "dial")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if p.SubmitSync(ctx, "waiting") {
		t.Error("SubmitSync should give up when ctx expires")
	}
	close(d.gate)
}

func TestRace_ConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := newFakeDialer()
	opts := testOptions(t, d)
	opts.BatchSize = 64
	opts.QueueCapacity = 8192
	opts.FlushPeriod = 5 * time.Millisecond
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !p.Submit(fmt.Sprintf("%d:%d", g, i)) {
					t.Errorf("producer %d: record %d rejected", g, i)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	shutdown(t, p)

	next := make([]int, producers)
	total := 0
	for _, r := range d.Records() {
		var g, i int
		if _, err := fmt.Sscanf(r, "%d:%d", &g, &i); err != nil {
			t.Fatalf("bad record %q", r)
		}
		if i != next[g] {
			t.Fatalf("producer %d: got record %d, want %d", g, i, next[g])
		}
		next[g]++
		total++
	}
	if total != producers*perProducer {
		t.Errorf("delivered %d records, want %d", total, producers*perProducer)
	}
}

// TestRace_SubmitDuringShutdown checks that every record Submit accepted
// while Shutdown runs concurrently is delivered.
func TestRace_SubmitDuringShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	for run := 0; run < 50; run++ {
		d := newFakeDialer()
		opts := testOptions(t, d)
		opts.BatchSize = 64
		opts.QueueCapacity = 8192
		p, err := New(opts)
		if err != nil {
			t.Fatal(err)
		}

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 1000; i++ {
					if p.Submit("r") {
						accepted.Add(1)
					}
				}
			}()
		}
		time.Sleep(time.Duration(run%5) * 50 * time.Microsecond)
		shutdown(t, p)
		wg.Wait()

		if got := int64(len(d.Records())); got != accepted.Load() {
			t.Fatalf("run %d: accepted %d, delivered %d", run, accepted.Load(), got)
		}
	}
}
