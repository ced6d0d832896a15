package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerVerifier fails fast while the wrapped verifier keeps erroring, so a
// struggling database does not hold WebSocket handshakes open. Denials count
// as successes: only infrastructure errors trip the breaker.
type BreakerVerifier struct {
	next Verifier
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the breaker. Zero values fall back to defaults.
type BreakerSettings struct {
	// MinRequests is the number of requests in the window before tripping is considered.
	MinRequests uint32
	// FailureRatio trips the breaker once reached.
	FailureRatio float64
	// Interval is the rolling window for counts while closed.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.6
	}
	if s.Interval <= 0 {
		s.Interval = 10 * time.Second
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return s
}

// NewBreakerVerifier wraps next with a circuit breaker.
func NewBreakerVerifier(next Verifier, settings BreakerSettings, logger *slog.Logger) *BreakerVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	s := settings.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "access-verifier",
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsDenied(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &BreakerVerifier{next: next, cb: cb}
}

// Verify runs the wrapped verifier through the breaker.
func (b *BreakerVerifier) Verify(ctx context.Context, req Request) (Principal, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Verify(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return Principal{}, err
	}
	return res.(Principal), nil
}

// State returns the current breaker state.
func (b *BreakerVerifier) State() gobreaker.State {
	return b.cb.State()
}
