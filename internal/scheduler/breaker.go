package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the per-executor circuit breakers.
type BreakerSettings struct {
	ConsecutiveFailures uint32        // Trip after this many consecutive failures (default 5)
	OpenTimeout         time.Duration // Stay open this long before probing (default 30s)
	HalfOpenRequests    uint32        // Probe requests allowed in half-open state (default 1)
}

// DefaultBreakerSettings returns the default breaker settings.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerRegistry manages one circuit breaker per executor type. While a
// breaker is open, dispatches of that type fail fast and are routed
// through recovery like any other failure.
type BreakerRegistry struct {
	mu       sync.Mutex
	settings BreakerSettings
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	logger   *slog.Logger
}

// NewBreakerRegistry creates a registry. A nil logger discards output.
func NewBreakerRegistry(settings BreakerSettings, logger *slog.Logger) *BreakerRegistry {
	def := DefaultBreakerSettings()
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = def.OpenTimeout
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = def.HalfOpenRequests
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BreakerRegistry{
		settings: settings,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		logger:   logger,
	}
}

// Get returns the breaker for executorType, creating it on first use.
func (r *BreakerRegistry) Get(executorType string) *gobreaker.TwoStepCircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[executorType]; ok {
		return cb
	}

	threshold := r.settings.ConsecutiveFailures
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        executorType,
		MaxRequests: r.settings.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "executor", name, "from", from.String(), "to", to.String())
		},
	})

	r.breakers[executorType] = cb
	return cb
}

// State returns the current state of the breaker for executorType.
func (r *BreakerRegistry) State(executorType string) gobreaker.State {
	return r.Get(executorType).State()
}

// Allow reserves a call slot for executorType. The returned function must
// be called with the outcome of the call.
func (r *BreakerRegistry) Allow(executorType string) (done func(err error), err error) {
	report, err := r.Get(executorType).Allow()
	if err != nil {
		return nil, err
	}
	return func(err error) {
		// Cancellation is not an executor failure
		report(err == nil || errors.Is(err, context.Canceled))
	}, nil
}
