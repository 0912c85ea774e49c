package irbis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for servers.
// This is a helper for common use cases: the breaker trips when at least 60% of
// 3 or more requests failed. Cancelled exchanges do not count as failures.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[[]byte] {
	return func(serverAddr string) *gobreaker.CircuitBreaker[[]byte] {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("irbis: circuit breaker state changed", "server", name, "from", from.String(), "to", to.String())
			},
		}
		return gobreaker.NewCircuitBreaker[[]byte](settings)
	}
}
