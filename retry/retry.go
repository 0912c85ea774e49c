// Package retry runs an operation again after failures a resolver says can
// be fixed.
package retry

import (
	"errors"
	"log/slog"
	"time"
)

// ErrGaveUp is returned by Do once the retry limit is exhausted. The last
// failure is not attached.
var ErrGaveUp = errors.New("retry: gave up")

// FatalError wraps a failure the resolver declined to handle.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "retry: unresolved failure: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Manager is a retry policy. It keeps no state between calls and is safe for
// concurrent use as long as its fields are not modified.
type Manager struct {
	// RetryLimit is the number of retries after the first attempt.
	// Must be > 0.
	RetryLimit int

	// DelayInterval is slept before every retry. Zero retries immediately.
	// The sleep blocks the calling goroutine.
	DelayInterval time.Duration

	// Resolver decides whether a failure can be retried. With a nil
	// resolver the first failure is returned as is.
	Resolver func(err error) bool

	// OnError is called for every failed attempt.
	OnError func(err error)

	// OnResolved is called when the resolver accepted a failure.
	OnResolved func(err error)

	// Logger receives retry diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// for testing purposes only
	sleep func(time.Duration)
}

// NewManager returns a manager retrying up to limit times with a fixed delay,
// using resolver to classify failures.
func NewManager(limit int, delay time.Duration, resolver func(error) bool) *Manager {
	if limit <= 0 {
		panic("retry: limit must be positive")
	}
	return &Manager{
		RetryLimit:    limit,
		DelayInterval: delay,
		Resolver:      resolver,
	}
}

// Always is a resolver accepting every failure.
func Always(error) bool { return true }

// Try runs op until it succeeds, the resolver refuses a failure, or the
// retry limit is reached. On exhaustion the last failure is returned.
func (m *Manager) Try(op func() error) error {
	_, err := m.run(op)
	return err
}

// Do runs op like Try and returns its value. On exhaustion it returns
// ErrGaveUp instead of the last failure; callers relying on the cause must
// use Try.
func Do[T any](m *Manager, op func() (T, error)) (T, error) {
	var result T
	exhausted, err := m.run(func() error {
		var err error
		result, err = op()
		return err
	})
	if exhausted {
		var zero T
		return zero, ErrGaveUp
	}
	return result, err
}

func (m *Manager) run(op func() error) (exhausted bool, err error) {
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return false, nil
		}

		if m.OnError != nil {
			m.OnError(err)
		}

		if m.Resolver == nil {
			return false, err
		}
		if !m.Resolver(err) {
			return false, &FatalError{Err: err}
		}

		if m.OnResolved != nil {
			m.OnResolved(err)
		}

		if attempt >= m.RetryLimit {
			m.logger().Error("irbis: retry limit reached", "attempts", attempt+1, "error", err)
			return true, err
		}

		m.logger().Debug("irbis: retrying", "attempt", attempt+1, "delay", m.DelayInterval, "error", err)
		if m.DelayInterval > 0 {
			m.doSleep(m.DelayInterval)
		}
	}
}

func (m *Manager) doSleep(d time.Duration) {
	if m.sleep != nil {
		m.sleep(d)
		return
	}
	time.Sleep(d)
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
