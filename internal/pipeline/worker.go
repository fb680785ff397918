package pipeline

import (
	"context"
	"time"

	"github.com/szibis/logship/internal/logging"
	"github.com/szibis/logship/internal/queue"
	"github.com/szibis/logship/internal/transport"
)

const errorLogEvery = 10 * time.Second

// worker is the single consumer of a pipeline's queue. The accumulator,
// client and retry state are only touched from run.
type worker struct {
	p        *Pipeline
	acc      *Accumulator
	client   *Client
	retry    *Retry
	m        *pipelineMetrics
	interval time.Duration
	now      func() time.Time

	lastFlush time.Time
	syncBuf   [1]string
}

func newWorker(p *Pipeline) *worker {
	return &worker{
		p:        p,
		acc:      NewAccumulator(p.opts.BatchSize),
		client:   NewClient(p.opts.Category, p.opts.Resolver, p.opts.Dialer, p.opts.ConnectTimeout, p.opts.SendTimeout),
		retry:    NewRetry(p.opts.RetryMin, p.opts.RetryMax),
		m:        p.metrics,
		interval: p.opts.BatchInterval,
		now:      time.Now,
	}
}

func (w *worker) run() {
	defer close(w.p.done)

	waiter := queue.NewWaiter()
	defer waiter.Stop()

	w.lastFlush = w.now()
	ring := w.p.ring
	for {
		start := time.Now()
		n := ring.Drain(w.acc.Cap(), w.onRecord)
		if n > 0 {
			Record(componentDrain, time.Since(start))
		}
		served := w.serveSync()
		w.m.queueDepth.Set(float64(ring.Len()))

		if n > 0 || served {
			waiter.Reset()
			continue
		}
		// Len also counts claims that are not yet published, so a closed
		// ring is only finished once it reaches zero.
		if ring.Closed() && ring.Len() == 0 {
			break
		}
		waiter.Idle(w.p.wake)
	}

	w.finish()
}

// onRecord feeds one record and decides whether to flush.
func (w *worker) onRecord(r queue.Record) {
	if !r.Flush {
		w.acc.Offer(r.Payload)
	}
	if w.acc.Len() == 0 {
		return
	}

	switch {
	case w.acc.IsFull():
		w.m.fullFlushes.Inc()
	case r.Flush:
		w.m.delayedFlushes.Inc()
	case w.now().Sub(w.lastFlush) > w.interval:
		w.m.delayedFlushes.Inc()
	default:
		return
	}
	w.flush()
}

func (w *worker) flush() {
	w.attemptFlush(w.acc.View())
	w.acc.Reset()
	w.lastFlush = w.now()
}

// attemptFlush sends batch over the live connection, or counts a failed
// cycle and, when the backoff allows it, reconnects and sends batch on the
// new connection.
func (w *worker) attemptFlush(batch []string) {
	if w.client.Connected() {
		if err := w.send(batch); err == nil {
			w.retry.OnSendSuccess()
			w.setHealthy(true)
			return
		}
	}

	w.retry.OnSendFailure()
	if !w.retry.ShouldAttemptReconnect() {
		w.setHealthy(false)
		return
	}
	if err := w.reconnect(); err != nil {
		return
	}
	if err := w.send(batch); err != nil {
		w.reconnectFailed(err, transport.ErrorTypeOf(err))
		return
	}
	w.reconnected()
}

// reconnect replaces the client's connection. A failed connect is counted
// as a failed reconnect.
func (w *worker) reconnect() error {
	w.m.reconnectAttempts.Inc()
	logging.Info("reconnecting to collector", logging.F(
		"pipeline", w.p.key,
		"threshold", w.retry.Threshold(),
	))

	done := Track(componentConnect)
	err := w.client.Connect(context.Background())
	done()
	if err != nil {
		w.reconnectFailed(err, transport.ErrorTypeOf(err))
		return err
	}
	w.setConnected(true)
	return nil
}

// reconnected records a reconnect whose first send was accepted.
func (w *worker) reconnected() {
	w.retry.OnReconnectResult(true)
	w.m.reconnectSuccess.Inc()
	w.setHealthy(true)
	logging.Info("reconnected to collector", logging.F(
		"pipeline", w.p.key,
		"endpoint", w.client.Endpoint().String(),
	))
}

func (w *worker) reconnectFailed(err error, errType transport.ErrorType) {
	w.retry.OnReconnectResult(false)
	w.m.reconnectFailures.Inc()
	w.setHealthy(false)
	if logging.Allow("reconnect:"+w.p.key, errorLogEvery) {
		logging.Error("reconnect failed", logging.F(
			"pipeline", w.p.key,
			"error", err.Error(),
			"error_type", string(errType),
			"next_threshold", w.retry.Threshold(),
		))
	}
}

// send delivers batch and keeps the counters and connected mirror in step.
func (w *worker) send(batch []string) error {
	done := Track(componentSend)
	err := w.client.Send(context.Background(), batch)
	done()

	if err != nil {
		w.setConnected(false)
		w.m.sendFailed(err)
		if logging.Allow("send:"+w.p.key, errorLogEvery) {
			logging.Warn("send failed, batch dropped", logging.F(
				"pipeline", w.p.key,
				"records", len(batch),
				"error", err.Error(),
				"error_type", string(transport.ErrorTypeOf(err)),
			))
		}
		return err
	}

	w.m.sendSuccess.Inc()
	w.m.recordsSent.Add(float64(len(batch)))
	RecordBytes(componentSend, batchBytes(batch))
	return nil
}

// serveSync answers queued SubmitSync calls.
func (w *worker) serveSync() bool {
	served := false
	for {
		select {
		case req := <-w.p.syncReq:
			req.result <- w.sendSync(req.payload)
			served = true
		default:
			return served
		}
	}
}

// sendSync sends payload on its own. A disconnected pipeline counts the
// call as a failed cycle and reconnects first when the backoff allows it.
func (w *worker) sendSync(payload string) bool {
	reconnecting := false
	if !w.client.Connected() {
		w.retry.OnSendFailure()
		if !w.retry.ShouldAttemptReconnect() || w.reconnect() != nil {
			w.m.syncNotConnected.Inc()
			w.setHealthy(false)
			return false
		}
		reconnecting = true
	}

	done := Track(componentSyncSend)
	w.syncBuf[0] = payload
	err := w.client.Send(context.Background(), w.syncBuf[:])
	w.syncBuf[0] = ""
	done()

	if err != nil {
		w.setConnected(false)
		w.m.syncFail.Inc()
		w.m.sendFailed(err)
		if reconnecting {
			w.reconnectFailed(err, transport.ErrorTypeOf(err))
		} else if logging.Allow("sync-send:"+w.p.key, errorLogEvery) {
			logging.Warn("sync send failed", logging.F("pipeline", w.p.key, "error", err.Error()))
		}
		return false
	}

	w.m.syncOK.Inc()
	RecordBytes(componentSyncSend, len(payload))
	if reconnecting {
		w.reconnected()
	} else {
		w.retry.OnSendSuccess()
		w.setHealthy(true)
	}
	return true
}

// finish runs once the queue is closed and drained.
func (w *worker) finish() {
	if w.acc.Len() > 0 {
		w.m.delayedFlushes.Inc()
		w.flush()
	}
	w.client.Close()
	w.setConnected(false)

	for {
		select {
		case req := <-w.p.syncReq:
			req.result <- false
		default:
			w.m.queueDepth.Set(0)
			logging.Info("pipeline stopped", logging.F("pipeline", w.p.key))
			return
		}
	}
}

func (w *worker) setConnected(ok bool) {
	w.p.connected.Store(ok)
	if ok {
		w.m.connected.Set(1)
	} else {
		w.m.connected.Set(0)
	}
}

func (w *worker) setHealthy(ok bool) {
	w.p.failing.Store(!ok)
}
