package transport

import (
	"log/slog"
	"time"

	"github.com/pior/irbis/retry"
	"github.com/sony/gobreaker/v2"
)

// Builder stacks decorators over a base transport.
type Builder struct {
	t      Transport
	logger *slog.Logger
	err    error
}

func NewBuilder(base Transport) *Builder {
	return &Builder{t: base}
}

// WithLogger sets the logger of the decorators added after it.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithLatency(delay, jitter time.Duration) *Builder {
	if b.err == nil {
		b.t = NewLatency(b.t, delay, jitter)
	}
	return b
}

// WithFaults injects failures with the given probability. An invalid
// probability is reported by Build.
func (b *Builder) WithFaults(probability float64) *Builder {
	if b.err != nil {
		return b
	}
	f, err := NewFaults(b.t, probability, nil)
	if err != nil {
		b.err = err
		return b
	}
	f.Logger = b.logger
	b.t = f
	return b
}

func (b *Builder) WithRetry(manager *retry.Manager) *Builder {
	if b.err == nil {
		b.t = NewRetry(b.t, manager)
	}
	return b
}

func (b *Builder) WithBreaker(cb *gobreaker.CircuitBreaker[[]byte]) *Builder {
	if b.err == nil {
		b.t = NewBreaker(b.t, cb)
	}
	return b
}

// Build returns the outermost transport, or the first configuration error.
func (b *Builder) Build() (Transport, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.t, nil
}
