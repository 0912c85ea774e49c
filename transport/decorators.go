package transport

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pior/irbis/retry"
	"github.com/sony/gobreaker/v2"
)

// ErrInvalidProbability is returned for a fault probability outside [0, 1).
var ErrInvalidProbability = errors.New("irbis: fault probability must be in [0, 1)")

// Latency delays every exchange by Delay plus a random share of Jitter.
type Latency struct {
	inner  Transport
	delay  time.Duration
	jitter time.Duration
}

func NewLatency(inner Transport, delay, jitter time.Duration) *Latency {
	return &Latency{inner: inner, delay: delay, jitter: jitter}
}

func (l *Latency) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	d := l.delay
	if l.jitter > 0 {
		d += rand.N(l.jitter)
	}
	if d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return l.inner.Exchange(ctx, request)
}

func (l *Latency) Close() error {
	return l.inner.Close()
}

// Faults fails a share of exchanges with ErrInjectedFault without forwarding
// them. Useful to exercise retry and breaker configuration.
type Faults struct {
	// Logger receives a debug record per injected fault. Nil means
	// slog.Default().
	Logger *slog.Logger

	inner       Transport
	probability float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFaults validates probability. A nil rng uses the global generator.
func NewFaults(inner Transport, probability float64, rng *rand.Rand) (*Faults, error) {
	if probability < 0 || probability >= 1 {
		return nil, ErrInvalidProbability
	}
	return &Faults{
		inner:       inner,
		probability: probability,
		rng:         rng,
	}, nil
}

func (f *Faults) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if f.roll() < f.probability {
		f.logger().Debug("irbis: injecting transport fault", "probability", f.probability)
		return nil, ErrInjectedFault
	}
	return f.inner.Exchange(ctx, request)
}

func (f *Faults) roll() float64 {
	if f.rng == nil {
		return rand.Float64()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64()
}

func (f *Faults) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Faults) Close() error {
	return f.inner.Close()
}

// Retrying repeats failed exchanges according to a retry.Manager.
// The last failure is returned when retries run out.
type Retrying struct {
	inner   Transport
	manager *retry.Manager
}

func NewRetry(inner Transport, manager *retry.Manager) *Retrying {
	return &Retrying{inner: inner, manager: manager}
}

func (r *Retrying) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	var response []byte
	err := r.manager.Try(func() error {
		var err error
		response, err = r.inner.Exchange(ctx, request)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}

// Breaker guards exchanges with a circuit breaker. While the breaker is open
// exchanges fail fast with gobreaker.ErrOpenState.
type Breaker struct {
	inner Transport
	cb    *gobreaker.CircuitBreaker[[]byte]
}

func NewBreaker(inner Transport, cb *gobreaker.CircuitBreaker[[]byte]) *Breaker {
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		return b.inner.Exchange(ctx, request)
	})
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *Breaker) Close() error {
	return b.inner.Close()
}
