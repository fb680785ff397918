package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_endpoint_resolve_total",
		Help: "Endpoint resolutions by resolver kind and result",
	}, []string{"resolver", "result"})

	endpointsKnown = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logship_endpoint_known",
		Help: "Number of endpoints known to a watched resolver",
	}, []string{"resolver"})
)

func init() {
	prometheus.MustRegister(resolveTotal)
	prometheus.MustRegister(endpointsKnown)

	for _, r := range []string{"static", "dns", "zookeeper", "file"} {
		resolveTotal.WithLabelValues(r, "success").Add(0)
		resolveTotal.WithLabelValues(r, "error").Add(0)
	}
}

func recordResolve(resolver string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	resolveTotal.WithLabelValues(resolver, result).Inc()
}
