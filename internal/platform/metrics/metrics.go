package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	CallbacksReceived  *prometheus.CounterVec
	CorrelationMisses  prometheus.Counter
	ProtocolErrors     prometheus.Counter
	TimeoutsDelivered  prometheus.Counter
	TransfersCompleted prometheus.Counter
	TransfersFailed    prometheus.Counter
	TransferPages      prometheus.Histogram
}

// New registers all collectors with reg. Pass a fresh registry in tests; nil
// falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CallbacksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "abdm_callbacks_received_total",
			Help: "Inbound gateway callbacks by kind",
		}, []string{"kind"}),
		CorrelationMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "abdm_correlation_misses_total",
			Help: "Callbacks referencing an identifier unknown to this instance",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "abdm_protocol_errors_total",
			Help: "Callback payloads that violated a protocol invariant",
		}),
		TimeoutsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "abdm_timeouts_delivered_total",
			Help: "Correlation entries expired with no matching callback",
		}),
		TransfersCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "abdm_transfers_completed_total",
			Help: "Health information transfers reassembled to completion",
		}),
		TransfersFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "abdm_transfers_failed_total",
			Help: "Health information transfers that failed or timed out",
		}),
		TransferPages: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "abdm_transfer_pages",
			Help:    "Pages per completed transfer",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}
