package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics aggregates the engine-facing collectors. All collectors are
// registered once on the default registry and shared process-wide.
type PoolMetrics struct {
	operations      *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	liveNodes       prometheus.Gauge
	adminFeeBalance prometheus.Gauge
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_operations_total",
				Help: "Count of completed pool operations by kind.",
			}, []string{"op"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_operation_errors_total",
				Help: "Count of failed pool operations by kind.",
			}, []string{"op"}),
			liveNodes: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_live_nodes",
				Help: "Number of linked liquidity nodes, sentinel excluded.",
			}),
			adminFeeBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_admin_fee_balance",
				Help: "Accrued admin fee balance in currency base units.",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.operationErrors,
			poolRegistry.liveNodes,
			poolRegistry.adminFeeBalance,
		)
	})
	return poolRegistry
}

// Observe records one operation outcome.
func (m *PoolMetrics) Observe(op string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.operationErrors.WithLabelValues(op).Inc()
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

// SetLiveNodes publishes the linked node count.
func (m *PoolMetrics) SetLiveNodes(count int) {
	if m == nil {
		return
	}
	m.liveNodes.Set(float64(count))
}

// SetAdminFeeBalance publishes the accrued admin fee balance.
func (m *PoolMetrics) SetAdminFeeBalance(balance float64) {
	if m == nil {
		return
	}
	m.adminFeeBalance.Set(balance)
}
