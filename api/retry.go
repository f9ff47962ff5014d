package api

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy controls how WithRetry reacts to transient failures. A policy is
// consulted only by WithRetry and never mutated during a retry sequence.
type RetryPolicy struct {
	// RetryableStatusCodes lists the HTTP statuses worth retrying.
	RetryableStatusCodes map[int]bool

	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// Delays is the wait schedule between attempts. When the schedule is
	// shorter than MaxRetries, the last entry is reused.
	Delays []time.Duration

	// OnRetry, when set, observes every retry decision. It must not affect
	// control flow: panics raised inside it are recovered and logged.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy mirrors the exchange's documented rate-limit guidance:
// two retries at 5s then 10s, on 429 only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryableStatusCodes: map[int]bool{429: true},
		MaxRetries:           2,
		Delays:               []time.Duration{5 * time.Second, 10 * time.Second},
	}
}

// delay returns the wait before retry number attempt (0-based), clamped to the
// last schedule entry.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// retryable classifies an error. Authentication failures signal a credential
// problem, not a transient fault, and are never retried.
func (p RetryPolicy) retryable(err error) bool {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return p.RetryableStatusCodes[apiErr.StatusCode]
	}

	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// WithRetry runs op, retrying transient failures per the policy. Attempts are
// strictly sequential. After exhausting retries the last observed error is
// returned unchanged. A cancelled context aborts the wait between attempts.
func WithRetry(ctx context.Context, policy RetryPolicy, logger logrus.FieldLogger, op func(context.Context) ([]byte, error)) ([]byte, error) {
	if logger == nil {
		logger = DiscardLogger()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := op(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !policy.retryable(err) || attempt >= policy.MaxRetries {
			return nil, lastErr
		}

		delay := policy.delay(attempt)
		logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"max":     policy.MaxRetries,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("retrying request")

		notifyRetry(policy.OnRetry, attempt, err, delay, logger)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// notifyRetry invokes the observation hook, swallowing panics so the hook can
// never alter the retry sequence.
func notifyRetry(hook func(int, error, time.Duration), attempt int, err error, delay time.Duration, logger logrus.FieldLogger) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("retry hook panicked")
		}
	}()
	hook(attempt, err, delay)
}
