package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/pipeline"
	"github.com/szibis/logship/internal/scribe/scribetest"
	"github.com/szibis/logship/internal/transport"
)

func TestSplitLine(t *testing.T) {
	tests := []struct {
		line         string
		wantCategory string
		wantPayload  string
	}{
		{"plain line", "default", "plain line"},
		{"access\tGET /", "access", "GET /"},
		{"access\ta\tb", "access", "a\tb"},
		{"\tleading tab", "default", "\tleading tab"},
		{"two words\tpayload", "default", "two words\tpayload"},
		{"a,b\tpayload", "default", "a,b\tpayload"},
		{"audit\t", "audit", ""},
	}
	for _, tt := range tests {
		category, payload := splitLine(tt.line, "default")
		if category != tt.wantCategory || payload != tt.wantPayload {
			t.Errorf("splitLine(%q) = (%q, %q), want (%q, %q)",
				tt.line, category, payload, tt.wantCategory, tt.wantPayload)
		}
	}
}

func newTestRouter(t *testing.T, srv *scribetest.Server, sync bool) (*router, *pipeline.Registry) {
	t.Helper()
	ep, err := endpoint.Parse(srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	resolver := endpoint.NewStatic(ep)
	dialer := transport.NewScribeDialer(transport.Config{SocketTimeout: time.Second})
	reg := pipeline.NewRegistry()

	get := func(category string) (*pipeline.Pipeline, error) {
		opts := pipeline.Options{
			Category:      category,
			Resolver:      resolver,
			Dialer:        dialer,
			BatchSize:     8,
			BatchInterval: time.Hour,
			FlushPeriod:   time.Hour,
		}
		return reg.GetOrCreate(opts.Key(), func() (*pipeline.Pipeline, error) {
			return pipeline.New(opts)
		})
	}
	return &router{defaultCategory: "default", sync: sync, get: get}, reg
}

func TestRouter_ConsumeRoutesByCategory(t *testing.T) {
	srv, err := scribetest.NewServer()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	r, reg := newTestRouter(t, srv, false)
	input := "first\naccess\tGET /\n\nsecond\naudit\tlogin\n"
	if err := r.consume(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("consume() error = %v", err)
	}
	if got := reg.Len(); got != 3 {
		t.Errorf("registry has %d pipelines, want 3", got)
	}
	if err := reg.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("ShutdownAll() error = %v", err)
	}

	byCategory := map[string][]string{}
	for _, batch := range srv.Batches() {
		for _, e := range batch {
			byCategory[e.Category] = append(byCategory[e.Category], e.Message)
		}
	}
	if got := strings.Join(byCategory["default"], ","); got != "first,second" {
		t.Errorf("default = %q", got)
	}
	if got := strings.Join(byCategory["access"], ","); got != "GET /" {
		t.Errorf("access = %q", got)
	}
	if got := strings.Join(byCategory["audit"], ","); got != "login" {
		t.Errorf("audit = %q", got)
	}
	if r.accepted.Load() != 4 || r.rejected.Load() != 0 {
		t.Errorf("accepted=%d rejected=%d", r.accepted.Load(), r.rejected.Load())
	}
}

func TestRouter_SyncDelivers(t *testing.T) {
	srv, err := scribetest.NewServer()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	r, reg := newTestRouter(t, srv, true)
	defer reg.ShutdownAll(context.Background())

	if err := r.consume(context.Background(), strings.NewReader("sync line\naudit\tlogin\n")); err != nil {
		t.Fatalf("consume() error = %v", err)
	}
	if r.accepted.Load() != 2 || r.rejected.Load() != 0 {
		t.Fatalf("accepted=%d rejected=%d", r.accepted.Load(), r.rejected.Load())
	}

	byCategory := map[string]string{}
	for _, batch := range srv.Batches() {
		for _, e := range batch {
			byCategory[e.Category] = e.Message
		}
	}
	if byCategory["default"] != "sync line" || byCategory["audit"] != "login" {
		t.Errorf("delivered %v", byCategory)
	}
}

func TestRouter_RejectsAfterClose(t *testing.T) {
	calls := 0
	r := &router{
		defaultCategory: "default",
		get: func(string) (*pipeline.Pipeline, error) {
			calls++
			return nil, errors.New("unused")
		},
	}
	r.close()

	if r.handle(context.Background(), "late\tline") {
		t.Error("handle after close must fail")
	}
	if calls != 0 {
		t.Errorf("pipeline source called %d times after close", calls)
	}
	if r.rejected.Load() != 1 {
		t.Errorf("rejected = %d, want 1", r.rejected.Load())
	}
}

func TestRouter_PipelineError(t *testing.T) {
	r := &router{
		defaultCategory: "default",
		get: func(string) (*pipeline.Pipeline, error) {
			return nil, errors.New("boom")
		},
	}
	if r.handle(context.Background(), "x") {
		t.Error("expected failure")
	}
	if r.rejected.Load() != 1 {
		t.Errorf("rejected = %d, want 1", r.rejected.Load())
	}
}

func TestRouter_ConsumeStopsOnCancel(t *testing.T) {
	var seen []string
	r := &router{defaultCategory: "default"}
	r.get = func(category string) (*pipeline.Pipeline, error) {
		seen = append(seen, category)
		return nil, errors.New("unused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.consume(ctx, strings.NewReader("a\nb\n")); err != nil {
		t.Fatalf("consume() error = %v", err)
	}
	if len(seen) != 0 {
		t.Errorf("cancelled consume handled %v", seen)
	}
}
