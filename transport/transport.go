// Package transport carries encoded IRBIS queries to the server and brings
// the answers back.
//
// SocketTransport talks TCP. Decorators wrap any Transport with the same
// interface, so a caller cannot tell how many are stacked:
//
//	base := transport.NewSocketTransport("library:6666", nil)
//	chain, err := transport.NewBuilder(base).
//	    WithRetry(retry.NewManager(3, 100*time.Millisecond, transport.Transient)).
//	    WithBreaker(breaker).
//	    Build()
//
// Each With* call wraps the chain built so far; the last one is outermost.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrClosed is returned by a transport used after Close.
	ErrClosed = errors.New("irbis: transport closed")

	// ErrInjectedFault is the failure produced by the Faults decorator.
	ErrInjectedFault = errors.New("irbis: injected fault")
)

// Transport performs one request/response exchange with the server.
type Transport interface {
	// Exchange sends a fully encoded query and returns the full raw response.
	Exchange(ctx context.Context, request []byte) ([]byte, error)

	// Close releases resources. Later exchanges fail with ErrClosed.
	Close() error
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, request []byte) ([]byte, error)

func (f Func) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	return f(ctx, request)
}

func (f Func) Close() error {
	return nil
}

// ConnectionError wraps I/O failures talking to the server.
type ConnectionError struct {
	Op   string // dial, write, read
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("irbis: connection error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Transient reports whether an exchange failure is worth retrying.
// Cancellation, a closed transport and an open circuit breaker are not.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrClosed):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}
