package unirpc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolStatsCollector(t *testing.T) {
	var c poolStatsCollector

	c.recordAcquire()
	c.recordAcquire()
	c.recordAcquireWait(3 * time.Millisecond)
	c.recordAcquireError()
	c.recordCreate()
	c.recordDestroy()
	c.recordUnhealthy()
	c.recordReaped(2)
	c.setGauges(4, 1)

	s := c.snapshot()
	assert.Equal(t, uint64(2), s.AcquireCount)
	assert.Equal(t, uint64(1), s.AcquireWaitCount)
	assert.Equal(t, uint64(3*time.Millisecond), s.AcquireWaitTimeNs)
	assert.Equal(t, uint64(1), s.AcquireErrors)
	assert.Equal(t, uint64(1), s.CreatedSessions)
	assert.Equal(t, uint64(1), s.DestroyedSessions)
	assert.Equal(t, uint64(1), s.Unhealthy)
	assert.Equal(t, uint64(2), s.Reaped)
	assert.Equal(t, int32(4), s.IdleSessions)
	assert.Equal(t, int32(1), s.ActiveSessions)
	assert.Equal(t, int32(5), s.TotalSessions)
}

func TestSessionStatsCollector(t *testing.T) {
	var c sessionStatsCollector

	c.recordCall(time.Millisecond, 40, 32, nil)
	c.recordCall(2*time.Millisecond, 40, 0, errors.New("reset by peer"))
	c.recordServerError()

	s := c.snapshot()
	assert.Equal(t, uint64(2), s.Calls)
	assert.Equal(t, uint64(1), s.CallErrors)
	assert.Equal(t, uint64(1), s.ServerErrors)
	assert.Equal(t, uint64(3*time.Millisecond), s.CallTimeNs)
	assert.Equal(t, uint64(80), s.BytesSent)
	assert.Equal(t, uint64(32), s.BytesRecv)
}

func TestSessionStatsCollector_Concurrent(t *testing.T) {
	var c sessionStatsCollector
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.recordCall(time.Microsecond, 1, 1, nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(800), c.snapshot().Calls)
}
