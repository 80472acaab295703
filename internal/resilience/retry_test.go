package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func TestRetry_FirstAttempt(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastBackoff(3), "test", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, calls)
}

func TestRetry_RecoversFromTransient(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastBackoff(3), "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("throttled"), 429)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastBackoff(2), "test", func(context.Context) error {
		calls++
		return Transient(errors.New("down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, IsTransient(err))
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastBackoff(5), "test", func(context.Context) error {
		calls++
		return errors.New("bad filter")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	b := Backoff{Attempts: 5, Initial: time.Hour, Max: time.Hour}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, b, "test", func(context.Context) error {
		calls++
		return Transient(errors.New("slow"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomRetryable(t *testing.T) {
	calls := 0
	b := fastBackoff(3)
	b.Retryable = func(error) bool { return true }
	_ = Do(context.Background(), b, "test", func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	assert.Equal(t, 3, calls)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Attempts: 5, Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 300*time.Millisecond, b.Delay(2))
	assert.Equal(t, 300*time.Millisecond, b.Delay(6))

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid"), false},
		{"explicit", Transient(errors.New("x"), 500), true},
		{"wrapped", fmt.Errorf("call: %w", Transient(errors.New("x"), 429)), true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, TransientStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 422, 501} {
		assert.False(t, TransientStatus(code), code)
	}
}
