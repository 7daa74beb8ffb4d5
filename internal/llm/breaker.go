package llm

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerMetrics is a snapshot of a client's circuit breaker.
type BreakerMetrics struct {
	State                string
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// newBreaker builds the circuit breaker every HTTP client shares: trips after
// three consecutive failures, stays open for 30 seconds, then allows two
// half-open probes.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

func breakerMetrics(cb *gobreaker.CircuitBreaker) BreakerMetrics {
	counts := cb.Counts()
	var state string
	switch cb.State() {
	case gobreaker.StateClosed:
		state = "closed"
	case gobreaker.StateOpen:
		state = "open"
	case gobreaker.StateHalfOpen:
		state = "half-open"
	default:
		state = "unknown"
	}
	return BreakerMetrics{
		State:                state,
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}
