package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/szibis/logship/internal/logging"
	"github.com/szibis/logship/internal/pipeline"
)

const maxLineSize = 1 << 20

// pipelineSource returns the pipeline for a category, creating it on first use.
type pipelineSource func(category string) (*pipeline.Pipeline, error)

// router feeds input lines to the pipeline of their category.
type router struct {
	defaultCategory string
	sync            bool
	get             pipelineSource

	accepted atomic.Int64
	rejected atomic.Int64

	// mu is held for reading while a line is routed so close waits for it.
	mu     sync.RWMutex
	closed bool
}

// close makes every later line a reject, so no pipeline is created once
// shutdown has begun.
func (r *router) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// splitLine returns the category and payload of an input line. A line of
// the form category<TAB>payload is routed to category; anything else goes
// to def unchanged.
func splitLine(line, def string) (category, payload string) {
	category, payload, ok := strings.Cut(line, "\t")
	if !ok || category == "" || strings.ContainsAny(category, " ,") {
		return def, line
	}
	return category, payload
}

// handle submits one line and reports whether it was accepted.
func (r *router) handle(ctx context.Context, line string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.rejected.Add(1)
		return false
	}

	category, payload := splitLine(line, r.defaultCategory)
	p, err := r.get(category)
	if err != nil {
		if logging.Allow("route:"+category, errorLogEvery) {
			logging.Error("cannot create pipeline", logging.F("category", category, "error", err.Error()))
		}
		r.rejected.Add(1)
		return false
	}

	var ok bool
	if r.sync {
		ok = p.SubmitSync(ctx, payload)
	} else {
		ok = p.Submit(payload)
	}
	if ok {
		r.accepted.Add(1)
	} else {
		r.rejected.Add(1)
	}
	return ok
}

// consume reads lines from in until EOF or ctx is done.
func (r *router) consume(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		r.handle(ctx, line)
	}
	return sc.Err()
}
