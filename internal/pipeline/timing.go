package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	componentSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_component_seconds_total",
		Help: "Wall-clock seconds the delivery worker spent in each component",
	}, []string{"component"})

	componentBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_component_bytes_processed_total",
		Help: "Payload bytes handled by each delivery component",
	}, []string{"component"})

	// Pre-resolved so the worker never takes the vec's lock.
	secondsCounters map[string]prometheus.Counter
	bytesCounters   map[string]prometheus.Counter
)

const (
	componentDrain    = "drain"
	componentSend     = "send"
	componentConnect  = "connect"
	componentSyncSend = "sync_send"
)

var knownComponents = []string{componentDrain, componentSend, componentConnect, componentSyncSend}

func init() {
	prometheus.MustRegister(componentSeconds)
	prometheus.MustRegister(componentBytes)

	secondsCounters = make(map[string]prometheus.Counter, len(knownComponents))
	bytesCounters = make(map[string]prometheus.Counter, len(knownComponents))
	for _, c := range knownComponents {
		sc := componentSeconds.WithLabelValues(c)
		sc.Add(0)
		secondsCounters[c] = sc

		bc := componentBytes.WithLabelValues(c)
		bc.Add(0)
		bytesCounters[c] = bc
	}
}

// Record adds elapsed time to the named component's counter.
func Record(component string, d time.Duration) {
	if c, ok := secondsCounters[component]; ok {
		c.Add(d.Seconds())
	}
}

// RecordBytes adds processed bytes to the named component's counter.
func RecordBytes(component string, n int) {
	if n > 0 {
		if c, ok := bytesCounters[component]; ok {
			c.Add(float64(n))
		}
	}
}

// Track starts timing and returns a func that records when called.
//
//	defer pipeline.Track("send")()
func Track(component string) func() {
	start := time.Now()
	c := secondsCounters[component]
	return func() {
		if c != nil {
			c.Add(time.Since(start).Seconds())
		}
	}
}

func batchBytes(batch []string) int {
	n := 0
	for _, s := range batch {
		n += len(s)
	}
	return n
}
