package GoogleAPI

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// ErrRateLimitExceeded is returned once a throttled call has used up its retries.
var ErrRateLimitExceeded = errors.New("API rate limit exceeded")

// RetryPolicy describes how throttled calls are retried: after the n-th throttled
// attempt the caller sleeps BackoffFactor^n seconds, for at most MaxRetries sleeps.
type RetryPolicy struct {
	MaxRetries    int
	BackoffFactor float64
	Logger        *slog.Logger

	timer backoff.Timer
}

// NewRetryPolicy returns a policy that sleeps on the wall clock.
func NewRetryPolicy(maxRetries int, backoffFactor float64, logger *slog.Logger) *RetryPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryPolicy{MaxRetries: maxRetries, BackoffFactor: backoffFactor, Logger: logger}
}

// WithTimer returns a copy of the policy that waits on t instead of the wall clock.
func (p *RetryPolicy) WithTimer(t backoff.Timer) *RetryPolicy {
	cp := *p
	cp.timer = t
	return &cp
}

func (p *RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	interval := time.Duration(p.BackoffFactor * float64(time.Second))
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     interval,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffFactor,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(p.MaxRetries, 0))), ctx)
}

// CallWithRetry runs call, retrying only while the error is a throttling response.
// Any other error is returned immediately. When retries run out the error wraps
// ErrRateLimitExceeded.
func CallWithRetry[T any](ctx context.Context, policy *RetryPolicy, name string, call func() (T, error)) (T, error) {
	if policy == nil {
		return call()
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := call()
		if err != nil && !IsThrottled(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	notify := func(err error, wait time.Duration) {
		policy.Logger.WarnContext(ctx, "API rate limit exceeded, retrying",
			"call", name, "attempt", attempt, "sleep", wait, "error", err)
	}

	result, err := backoff.RetryNotifyWithTimerAndData(operation, policy.backOff(ctx), notify, policy.timer)
	if err != nil && IsThrottled(err) {
		policy.Logger.ErrorContext(ctx, "max retries exceeded for API rate limiting", "call", name, "attempts", attempt)
		return result, fmt.Errorf("%w: %s after %d attempts: %w", ErrRateLimitExceeded, name, attempt, err)
	}
	return result, err
}

// IsThrottled reports whether err is a provider throttling response.
func IsThrottled(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return true
		}
		for _, item := range apiErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return true
			}
		}
		return false
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return retrieveErr.Response.StatusCode == http.StatusTooManyRequests
	}
	return false
}
