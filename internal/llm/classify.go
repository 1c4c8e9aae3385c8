package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// Classify maps a failed attempt to an ErrorKind. Rules are checked in order
// and the first match wins.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	status := statusCode(err)
	text := strings.ToLower(err.Error())

	switch {
	case status == http.StatusTooManyRequests || containsAny(text, "rate limit", "too many requests"):
		return KindRateLimit
	case status == http.StatusPaymentRequired || containsAny(text, "quota", "insufficient credits", "billing"):
		return KindQuotaExceeded
	case status == http.StatusUnauthorized:
		return KindAuth
	case isNetworkError(err) || strings.Contains(text, "timeout"):
		return KindTimeout
	case status >= http.StatusBadRequest:
		return KindAPI
	default:
		return KindUnknown
	}
}

// Cooldown returns how long a model stays unavailable after a failure of the
// given kind. failureCount includes the failure being classified.
func Cooldown(kind ErrorKind, failureCount int) time.Duration {
	switch kind {
	case KindRateLimit:
		return 5 * time.Minute
	case KindQuotaExceeded, KindAuth:
		return 24 * time.Hour
	case KindAPI:
		if failureCount > 3 {
			return time.Minute
		}
		return 0
	case KindUnknown:
		if failureCount > 5 {
			return 10 * time.Minute
		}
		return 0
	case KindTimeout:
		return 0
	default:
		return 0
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
