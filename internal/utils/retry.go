package utils

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RetryPolicy is the transport level retry used by the HTTP clients.
// Only network errors and 5xx answers are retried.
type RetryPolicy struct {
	Attempts int
	Wait     time.Duration
	MaxWait  time.Duration
}

// DefaultRetryPolicy makes 3 attempts waiting 1s, then 2s, capped at 10s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Wait: time.Second, MaxWait: 10 * time.Second}

// Apply configures the resty client with the policy.
func (p RetryPolicy) Apply(c *resty.Client) *resty.Client {
	if p.Attempts <= 1 {
		return c.SetRetryCount(0)
	}

	return c.
		SetRetryCount(p.Attempts - 1).
		SetRetryWaitTime(p.Wait).
		SetRetryMaxWaitTime(p.MaxWait).
		SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
			attempt := 1
			if r != nil && r.Request != nil && r.Request.Attempt > 0 {
				attempt = r.Request.Attempt
			}
			return p.Backoff(attempt), nil
		}).
		AddRetryCondition(Retryable)
}

// Backoff returns the wait before the attempt following the given one.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := p.Wait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxWait {
			return p.MaxWait
		}
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		return p.MaxWait
	}
	return wait
}

// Retryable reports whether a response or error should be retried.
func Retryable(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return r != nil && r.StatusCode() >= http.StatusInternalServerError
}
