package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/rankinge/internal/model"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{20, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("failures=%d", tt.failures), func(t *testing.T) {
			if got := p.Backoff(tt.failures); got != tt.want {
				t.Errorf("Backoff(%d) = %v, want %v", tt.failures, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_BackoffCappedWhenInitialExceedsMax(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Minute, MaxBackoff: time.Second}
	if got := p.Backoff(1); got != time.Second {
		t.Errorf("Backoff(1) = %v, want 1s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"一時的なストア障害", model.NewTransientStoreError("write snapshot", errors.New("conn reset")), true},
		{"ラップされた一時障害", fmt.Errorf("capture: %w", model.NewTransientStoreError("x", nil)), true},
		{"不正な対象", model.NewInvalidTargetError("missing"), false},
		{"素のエラー", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSleepContext_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext did not return promptly")
	}
}
