package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(gatewayCallLatency)
}

var gatewayCallLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gateway_call_latency_ms",
		Help:    "Payment gateway call latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
	},
	[]string{"call", "success"},
)

func ObserveGatewayCall(call string, elapsed time.Duration, success bool) {
	gatewayCallLatency.WithLabelValues(call, strconv.FormatBool(success)).
		Observe(float64(elapsed.Milliseconds()))
}
