package unirpc

import (
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about a session pool.
// All fields are safe for concurrent access.
//
// Fields are ordered largest to smallest for optimal memory layout.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalSessions, IdleSessions, ActiveSessions
//   - Counters: AcquireCount, AcquireWaitCount, CreatedSessions, DestroyedSessions, AcquireErrors, Reaped
//   - Histogram: AcquireWaitDuration (use AcquireWaitCount and AcquireWaitTimeNs to calculate)
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedSessions   uint64 // Total sessions created
	DestroyedSessions uint64 // Total sessions hard-closed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting
	Unhealthy         uint64 // Sessions discarded by a failed health check or reset
	Reaped            uint64 // Sessions evicted for being idle

	TotalSessions  int32 // Sessions owned by the pool (active + idle)
	IdleSessions   int32 // Sessions in the available queue
	ActiveSessions int32 // Sessions handed out
	_              int32
}

// SessionStats contains statistics about RPC calls made on one session
// or, aggregated, on all sessions of a Client.
type SessionStats struct {
	Calls        uint64 // Total round trips
	CallErrors   uint64 // Round trips that failed in transport
	ServerErrors uint64 // Responses carrying a non-zero status
	CallTimeNs   uint64 // Total nanoseconds spent in round trips
	BytesSent    uint64
	BytesRecv    uint64
}

// poolStatsCollector provides internal methods for updating pool stats.
// Not exported - pools update their own stats.
type poolStatsCollector struct {
	stats PoolStats
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedSessions, 1)
}

func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedSessions, 1)
}

func (c *poolStatsCollector) recordUnhealthy() {
	atomic.AddUint64(&c.stats.Unhealthy, 1)
}

func (c *poolStatsCollector) recordReaped(n int) {
	atomic.AddUint64(&c.stats.Reaped, uint64(n))
}

// setGauges publishes the current queue sizes. Called with the pool lock held.
func (c *poolStatsCollector) setGauges(idle, active int) {
	atomic.StoreInt32(&c.stats.IdleSessions, int32(idle))
	atomic.StoreInt32(&c.stats.ActiveSessions, int32(active))
	atomic.StoreInt32(&c.stats.TotalSessions, int32(idle+active))
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedSessions:   atomic.LoadUint64(&c.stats.CreatedSessions),
		DestroyedSessions: atomic.LoadUint64(&c.stats.DestroyedSessions),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
		Unhealthy:         atomic.LoadUint64(&c.stats.Unhealthy),
		Reaped:            atomic.LoadUint64(&c.stats.Reaped),
		TotalSessions:     atomic.LoadInt32(&c.stats.TotalSessions),
		IdleSessions:      atomic.LoadInt32(&c.stats.IdleSessions),
		ActiveSessions:    atomic.LoadInt32(&c.stats.ActiveSessions),
	}
}

// sessionStatsCollector provides internal methods for updating call stats.
type sessionStatsCollector struct {
	stats SessionStats
}

func (c *sessionStatsCollector) recordCall(duration time.Duration, sent, recv int, err error) {
	atomic.AddUint64(&c.stats.Calls, 1)
	atomic.AddUint64(&c.stats.CallTimeNs, uint64(duration.Nanoseconds()))
	atomic.AddUint64(&c.stats.BytesSent, uint64(sent))
	atomic.AddUint64(&c.stats.BytesRecv, uint64(recv))
	if err != nil {
		atomic.AddUint64(&c.stats.CallErrors, 1)
	}
}

func (c *sessionStatsCollector) recordServerError() {
	atomic.AddUint64(&c.stats.ServerErrors, 1)
}

func (c *sessionStatsCollector) snapshot() SessionStats {
	return SessionStats{
		Calls:        atomic.LoadUint64(&c.stats.Calls),
		CallErrors:   atomic.LoadUint64(&c.stats.CallErrors),
		ServerErrors: atomic.LoadUint64(&c.stats.ServerErrors),
		CallTimeNs:   atomic.LoadUint64(&c.stats.CallTimeNs),
		BytesSent:    atomic.LoadUint64(&c.stats.BytesSent),
		BytesRecv:    atomic.LoadUint64(&c.stats.BytesRecv),
	}
}
