package coarsetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowAdvances(t *testing.T) {
	first := Now()
	assert.Eventually(t, func() bool {
		return Now() > first
	}, time.Second, 10*time.Millisecond)
}

func TestNowIsCloseToWallClock(t *testing.T) {
	assert.WithinDuration(t, time.Now(), Now().Time(), 2*tick)
}

func TestStamp_Age(t *testing.T) {
	assert.Zero(t, Stamp(0).Age(), "never stamped")
	assert.Zero(t, At(time.Now().Add(time.Hour)).Age(), "future stamps have no age")
	assert.GreaterOrEqual(t, At(time.Now().Add(-time.Minute)).Age(), time.Minute-2*tick)
}

func TestStamp_IsZero(t *testing.T) {
	var s Stamp
	assert.True(t, s.IsZero())
	assert.False(t, Now().IsZero())
}

func BenchmarkTimeNow(b *testing.B) {
	b.Run("time", func(b *testing.B) {
		var t time.Time
		for b.Loop() {
			t = time.Now()
		}
		_ = t
	})

	b.Run("coarsetime", func(b *testing.B) {
		var s Stamp
		for b.Loop() {
			s = Now()
		}
		_ = s
	})
}
