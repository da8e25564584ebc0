package unirpc

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for pool keys.
// This is a helper for common use cases.
//
// Only transport failures count against the breaker.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(PoolKey) *gobreaker.CircuitBreaker[*Session] {
	return func(key PoolKey) *gobreaker.CircuitBreaker[*Session] {
		settings := gobreaker.Settings{
			Name:        key.String(),
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || Classify(err) != ClassTransport
			},
		}
		return gobreaker.NewCircuitBreaker[*Session](settings)
	}
}
