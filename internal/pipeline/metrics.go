package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/logship/internal/transport"
)

var (
	queueDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_queue_drops_total",
		Help: "Records rejected because the pipeline queue was full or closed",
	}, []string{"pipeline"})

	reconnectAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_reconnect_attempts_total",
		Help: "Reconnect attempts to the collector",
	}, []string{"pipeline"})

	reconnectSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_reconnect_success_total",
		Help: "Reconnects that delivered the pending batch",
	}, []string{"pipeline"})

	reconnectFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_reconnect_failures_total",
		Help: "Reconnects that failed to connect or to deliver the pending batch",
	}, []string{"pipeline"})

	fullBatchFlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_full_batch_flushes_total",
		Help: "Flushes triggered by a full batch",
	}, []string{"pipeline"})

	delayedBatchFlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_delayed_batch_flushes_total",
		Help: "Flushes of partial batches triggered by time, the flush ticker or shutdown",
	}, []string{"pipeline"})

	sendSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_send_success_total",
		Help: "Batches delivered to the collector",
	}, []string{"pipeline"})

	sendFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_send_failures_total",
		Help: "Batch sends that failed, by error type",
	}, []string{"pipeline", "error_type"})

	recordsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_records_sent_total",
		Help: "Records delivered to the collector",
	}, []string{"pipeline"})

	syncSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_sync_sends_total",
		Help: "Synchronous sends by result (ok, fail, not_connected)",
	}, []string{"pipeline", "result"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logship_queue_depth",
		Help: "Records waiting in the pipeline queue",
	}, []string{"pipeline"})

	connectedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logship_connected",
		Help: "1 when the pipeline holds a live collector connection",
	}, []string{"pipeline"})
)

func init() {
	prometheus.MustRegister(queueDropsTotal)
	prometheus.MustRegister(reconnectAttemptsTotal)
	prometheus.MustRegister(reconnectSuccessTotal)
	prometheus.MustRegister(reconnectFailuresTotal)
	prometheus.MustRegister(fullBatchFlushesTotal)
	prometheus.MustRegister(delayedBatchFlushesTotal)
	prometheus.MustRegister(sendSuccessTotal)
	prometheus.MustRegister(sendFailuresTotal)
	prometheus.MustRegister(recordsSentTotal)
	prometheus.MustRegister(syncSendsTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(connectedGauge)
}

// pipelineMetrics holds the series of one pipeline, resolved once.
type pipelineMetrics struct {
	label string

	queueDrops        prometheus.Counter
	reconnectAttempts prometheus.Counter
	reconnectSuccess  prometheus.Counter
	reconnectFailures prometheus.Counter
	fullFlushes       prometheus.Counter
	delayedFlushes    prometheus.Counter
	sendSuccess       prometheus.Counter
	recordsSent       prometheus.Counter
	syncOK            prometheus.Counter
	syncFail          prometheus.Counter
	syncNotConnected  prometheus.Counter
	queueDepth        prometheus.Gauge
	connected         prometheus.Gauge
}

func newPipelineMetrics(key string) *pipelineMetrics {
	m := &pipelineMetrics{
		label:             key,
		queueDrops:        queueDropsTotal.WithLabelValues(key),
		reconnectAttempts: reconnectAttemptsTotal.WithLabelValues(key),
		reconnectSuccess:  reconnectSuccessTotal.WithLabelValues(key),
		reconnectFailures: reconnectFailuresTotal.WithLabelValues(key),
		fullFlushes:       fullBatchFlushesTotal.WithLabelValues(key),
		delayedFlushes:    delayedBatchFlushesTotal.WithLabelValues(key),
		sendSuccess:       sendSuccessTotal.WithLabelValues(key),
		recordsSent:       recordsSentTotal.WithLabelValues(key),
		syncOK:            syncSendsTotal.WithLabelValues(key, "ok"),
		syncFail:          syncSendsTotal.WithLabelValues(key, "fail"),
		syncNotConnected:  syncSendsTotal.WithLabelValues(key, "not_connected"),
		queueDepth:        queueDepth.WithLabelValues(key),
		connected:         connectedGauge.WithLabelValues(key),
	}
	m.connected.Set(0)
	return m
}

func (m *pipelineMetrics) sendFailed(err error) {
	sendFailuresTotal.WithLabelValues(m.label, string(transport.ErrorTypeOf(err))).Inc()
}
