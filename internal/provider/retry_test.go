package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

func fastSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { retrySleep = orig })
	return &waits
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{5, 160 * time.Second},
		{6, 320 * time.Second},
		{10, 320 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.n); got != tt.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &anthropic.Error{StatusCode: 429}, true},
		{"overloaded", &anthropic.Error{StatusCode: 529}, true},
		{"server error", &anthropic.Error{StatusCode: 500}, true},
		{"bad request", &anthropic.Error{StatusCode: 400}, false},
		{"auth failure", &anthropic.Error{StatusCode: 401}, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"plain failure", errors.New("invalid model"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetry_succeedsAfterTransientFailures(t *testing.T) {
	waits := fastSleep(t)

	calls := 0
	err := withRetry(context.Background(), nil, "op", func() error {
		calls++
		if calls < 3 {
			return &anthropic.Error{StatusCode: 429}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*waits) != 2 || (*waits)[0] != 10*time.Second || (*waits)[1] != 20*time.Second {
		t.Errorf("waits = %v, want [10s 20s]", *waits)
	}
}

func TestWithRetry_permanentErrorNotRetried(t *testing.T) {
	fastSleep(t)

	calls := 0
	wantErr := fmt.Errorf("invalid request")
	err := withRetry(context.Background(), nil, "op", func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_exhaustsAttempts(t *testing.T) {
	waits := fastSleep(t)

	calls := 0
	err := withRetry(context.Background(), nil, "op", func() error {
		calls++
		return &anthropic.Error{StatusCode: 503}
	})
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v", err)
	}
	if calls != retryAttempts {
		t.Errorf("calls = %d, want %d", calls, retryAttempts)
	}
	if len(*waits) != retryAttempts-1 {
		t.Errorf("waits = %d, want %d", len(*waits), retryAttempts-1)
	}
}

func TestWithRetry_cancelledDuringWait(t *testing.T) {
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }
	t.Cleanup(func() { retrySleep = orig })

	calls := 0
	err := withRetry(context.Background(), nil, "op", func() error {
		calls++
		return &anthropic.Error{StatusCode: 429}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
