package provider

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 10 * time.Second
	retryMaxDelay  = 320 * time.Second
)

// withRetry runs fn up to retryAttempts times, backing off exponentially
// between attempts. Only transient failures are retried; everything else
// propagates immediately. The wait is cancellable through ctx.
func withRetry(ctx context.Context, logger Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			if logger != nil {
				logger.Printf("%s: transient error, retrying in %s (attempt %d/%d): %v",
					op, delay, attempt, retryAttempts, err)
			}
			if werr := retrySleep(ctx, delay); werr != nil {
				return werr
			}
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

// backoffDelay returns 10s doubled per completed attempt, capped at 320s.
func backoffDelay(n int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

// retrySleep is a seam for tests.
var retrySleep = sleepCtx

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isTransient classifies rate-limit, overload and network failures as
// retryable. Context cancellation never is.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504, 529:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "timeout", "timed out", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
