package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestExecute_SucceedsFirstTry(t *testing.T) {
	calls := 0
	res := Execute(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, DefaultOptions())

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "ok", res.Value)
	assert.NoError(t, res.LastError)
	assert.Equal(t, 1, calls)
}

func TestExecute_SucceedsAfterOneFailure(t *testing.T) {
	calls := 0
	res := Execute(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	}, Options{MaxRetries: 2, Delay: 5 * time.Millisecond})

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 42, res.Value)
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	res := Do(context.Background(), func(ctx context.Context) error {
		return errFlaky
	}, Options{MaxRetries: 1, Delay: 5 * time.Millisecond})

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.ErrorIs(t, res.LastError, errFlaky)
}

func TestExecute_ZeroRetries(t *testing.T) {
	res := Do(context.Background(), func(ctx context.Context) error {
		return errFlaky
	}, Options{MaxRetries: 0, Backoff: BackoffFixed})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
}

func TestExecute_NegativeRetriesTreatedAsZero(t *testing.T) {
	res := Do(context.Background(), func(ctx context.Context) error {
		return errFlaky
	}, Options{MaxRetries: -3})

	assert.Equal(t, 1, res.Attempts)
}

func TestExecute_PermanentStops(t *testing.T) {
	res := Do(context.Background(), func(ctx context.Context) error {
		return Permanent(errFlaky)
	}, Options{MaxRetries: 5, Delay: time.Millisecond})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.LastError, errFlaky)
}

func TestExecute_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result[struct{}], 1)
	go func() {
		done <- Do(ctx, func(ctx context.Context) error {
			return errFlaky
		}, Options{MaxRetries: 10, Delay: time.Hour, Backoff: BackoffFixed})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
		assert.ErrorIs(t, res.LastError, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestExecute_FixedBackoffWaits(t *testing.T) {
	start := time.Now()
	res := Do(context.Background(), func(ctx context.Context) error {
		return errFlaky
	}, Options{MaxRetries: 2, Delay: 20 * time.Millisecond, Backoff: BackoffFixed})

	require.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestExecute_ExponentialBackoffWaits(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()
	start := last
	res := Do(context.Background(), func(ctx context.Context) error {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		return errFlaky
	}, Options{MaxRetries: 2, Delay: 10 * time.Millisecond, Backoff: BackoffExponential})

	require.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	// 10ms then 20ms
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Len(t, gaps, 3)
	assert.GreaterOrEqual(t, gaps[1], DelayFor(Options{Delay: 10 * time.Millisecond}, 1))
	assert.GreaterOrEqual(t, gaps[2], DelayFor(Options{Delay: 10 * time.Millisecond}, 2))
}

func TestDelayFor(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		attempt int
		want    time.Duration
	}{
		{"fixed first", Options{Delay: 10 * time.Millisecond, Backoff: BackoffFixed}, 1, 10 * time.Millisecond},
		{"fixed third", Options{Delay: 10 * time.Millisecond, Backoff: BackoffFixed}, 3, 10 * time.Millisecond},
		{"exponential first", Options{Delay: 10 * time.Millisecond, Backoff: BackoffExponential}, 1, 10 * time.Millisecond},
		{"exponential third", Options{Delay: 10 * time.Millisecond, Backoff: BackoffExponential}, 3, 40 * time.Millisecond},
		{"exponential capped", Options{Delay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}, 3, 25 * time.Millisecond},
		{"attempt below one", Options{Delay: 10 * time.Millisecond}, 0, 10 * time.Millisecond},
		{"zero delay", Options{Backoff: BackoffExponential}, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DelayFor(tt.opts, tt.attempt))
		})
	}
}
