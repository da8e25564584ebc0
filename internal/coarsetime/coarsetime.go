// Package coarsetime stamps session lifecycle events with a clock that
// is refreshed every 50ms, so pools can mark every release without a
// clock read each time. The clock starts on first use.
package coarsetime

import (
	"sync"
	"sync/atomic"
	"time"
)

const tick = 50 * time.Millisecond

var (
	nanos atomic.Int64
	start sync.Once
)

func run() {
	nanos.Store(time.Now().UnixNano())

	ticker := time.NewTicker(tick)
	go func() {
		for t := range ticker.C {
			nanos.Store(t.UnixNano())
		}
	}()
}

// Stamp is a point in time with a resolution of one tick.
// The zero Stamp means never stamped.
type Stamp int64

// Now returns the current stamp.
func Now() Stamp {
	start.Do(run)
	return Stamp(nanos.Load())
}

// At converts t to a stamp.
func At(t time.Time) Stamp {
	return Stamp(t.UnixNano())
}

func (s Stamp) IsZero() bool {
	return s == 0
}

func (s Stamp) Time() time.Time {
	return time.Unix(0, int64(s))
}

// Age returns how long ago s was stamped. It is never negative, and a
// zero stamp has no age.
func (s Stamp) Age() time.Duration {
	if s.IsZero() {
		return 0
	}
	d := time.Duration(int64(Now()) - int64(s))
	if d < 0 {
		return 0
	}
	return d
}
