package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"webloop/internal/utils"
)

// RateLimitError wraps a provider throttling response. RetryAfter is
// the server-advertised delay when one was present, else zero.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err looks like provider throttling.
// Providers surface this inconsistently, so the check covers the
// status code, the gRPC code name, and common phrasings.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "quota exceeded")
}

// RetryAfterHint extracts a server-advertised retry delay when the
// error carries one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return 0, false
}

// Retryer runs an operation with bounded exponential backoff on rate
// limiting. The delay schedule without a server hint is
// BaseDelay * 2^attempt (15 s, 30 s, 60 s, 120 s, ...); a server hint
// takes precedence. Non-throttling errors fail immediately.
type Retryer struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      utils.ExtendedLogger

	// Sleep is injectable for tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer returns the production retry configuration: five
// attempts, 15-second base delay.
func NewRetryer(logger utils.ExtendedLogger) *Retryer {
	return &Retryer{
		MaxAttempts: 5,
		BaseDelay:   15 * time.Second,
		Logger:      logger,
	}
}

// Do runs op until it succeeds, fails with a non-throttling error, or
// exhausts MaxAttempts.
func (r *Retryer) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = waitCtx
	}

	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.BaseDelay * time.Duration(1<<(attempt-1))
			if hint, ok := RetryAfterHint(lastErr); ok {
				delay = hint
			}
			r.Logger.Infof("🔄 %s rate limited, retrying (attempt %d/%d) after %v", label, attempt+1, r.MaxAttempts, delay)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: retry wait cancelled: %w", label, err)
			}
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				r.Logger.Infof("✅ %s succeeded after %d retry attempts", label, attempt)
			}
			return nil
		}
		if !IsRateLimit(err) {
			return err
		}
		lastErr = err
		r.Logger.Warnf("⚠️ %s rate limited (attempt %d/%d): %v", label, attempt+1, r.MaxAttempts, err)
	}
	return fmt.Errorf("%s: rate limit retries exhausted: %w", label, lastErr)
}

func waitCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
