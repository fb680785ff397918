package compression

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bytesInTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_compression_input_bytes_total",
		Help: "Uncompressed bytes passed to the compressor",
	}, []string{"type"})

	bytesOutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logship_compression_output_bytes_total",
		Help: "Compressed bytes produced by the compressor",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(bytesInTotal)
	prometheus.MustRegister(bytesOutTotal)
}

func recordCompression(t Type, in, out int) {
	bytesInTotal.WithLabelValues(string(t)).Add(float64(in))
	bytesOutTotal.WithLabelValues(string(t)).Add(float64(out))
}
