package unirpc

import (
	"fmt"
	"io"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
)

// clientMetrics exposes pool and call statistics of one Client in
// Prometheus text format.
type clientMetrics struct {
	set          *metrics.Set
	callDuration *metrics.Histogram
}

func newClientMetrics(c *Client) *clientMetrics {
	m := &clientMetrics{set: metrics.NewSet()}
	m.callDuration = m.set.NewHistogram("unirpc_call_duration_seconds")

	counter := func(name string, field func(SessionStats) uint64) {
		m.set.NewGauge(name, func() float64 {
			return float64(field(c.Stats()))
		})
	}
	counter("unirpc_calls_total", func(s SessionStats) uint64 { return s.Calls })
	counter("unirpc_call_errors_total", func(s SessionStats) uint64 { return s.CallErrors })
	counter("unirpc_bytes_sent_total", func(s SessionStats) uint64 { return s.BytesSent })
	counter("unirpc_bytes_received_total", func(s SessionStats) uint64 { return s.BytesRecv })
	return m
}

// poolLabels identifies a pool in metric names. The key label tells
// apart pools that differ only by password.
func poolLabels(k PoolKey) string {
	return fmt.Sprintf("pool=%s,key=\"%08x\"", strconv.Quote(k.String()), uint32(k.hash()))
}

// registerPool adds gauges for a newly created pool.
func (m *clientMetrics) registerPool(kp *keyedPool) {
	labels := poolLabels(kp.key)

	gauge := func(name string, field func(PoolStats) float64) {
		m.set.GetOrCreateGauge(fmt.Sprintf("%s{%s}", name, labels), func() float64 {
			return field(kp.pool.Stats())
		})
	}
	gauge("unirpc_pool_sessions_total", func(s PoolStats) float64 { return float64(s.TotalSessions) })
	gauge("unirpc_pool_sessions_idle", func(s PoolStats) float64 { return float64(s.IdleSessions) })
	gauge("unirpc_pool_sessions_active", func(s PoolStats) float64 { return float64(s.ActiveSessions) })
	gauge("unirpc_pool_acquires_total", func(s PoolStats) float64 { return float64(s.AcquireCount) })
	gauge("unirpc_pool_acquire_errors_total", func(s PoolStats) float64 { return float64(s.AcquireErrors) })
	gauge("unirpc_pool_acquire_wait_seconds_total", func(s PoolStats) float64 { return float64(s.AcquireWaitTimeNs) / 1e9 })
	gauge("unirpc_pool_sessions_created_total", func(s PoolStats) float64 { return float64(s.CreatedSessions) })
	gauge("unirpc_pool_sessions_destroyed_total", func(s PoolStats) float64 { return float64(s.DestroyedSessions) })
	gauge("unirpc_pool_sessions_unhealthy_total", func(s PoolStats) float64 { return float64(s.Unhealthy) })
	gauge("unirpc_pool_sessions_reaped_total", func(s PoolStats) float64 { return float64(s.Reaped) })

	if kp.circuitBreaker != nil {
		cb := kp.circuitBreaker
		m.set.GetOrCreateGauge(fmt.Sprintf("unirpc_circuit_breaker_state{%s}", labels), func() float64 {
			return float64(cb.State())
		})
	}
}

// WriteMetrics writes the client's metrics to w in Prometheus text format.
func (c *Client) WriteMetrics(w io.Writer) {
	c.metrics.set.WritePrometheus(w)
}
