package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoAvailableModels is returned when no model is enabled and out of cooldown.
	ErrNoAvailableModels = errors.New("no available llm models")
	// ErrAllModelsFailed is matched by the error returned when every candidate failed.
	ErrAllModelsFailed = errors.New("all llm models failed")
	// ErrMalformedOutput marks a response without parseable JSON.
	ErrMalformedOutput = errors.New("malformed llm output")
)

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	KindRateLimit     ErrorKind = "RATE_LIMIT"
	KindQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	KindAuth          ErrorKind = "AUTH_ERROR"
	KindTimeout       ErrorKind = "TIMEOUT"
	KindAPI           ErrorKind = "API_ERROR"
	KindUnknown       ErrorKind = "UNKNOWN"
)

func ParseErrorKind(s string) (ErrorKind, error) {
	switch k := ErrorKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindRateLimit, KindQuotaExceeded, KindAuth, KindTimeout, KindAPI, KindUnknown:
		return k, nil
	default:
		return "", fmt.Errorf("unknown llm error kind: %q", s)
	}
}

// ProviderError is a non-2xx answer of a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
}

// ExhaustedError is returned when every candidate model failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrAllModelsFailed, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllModelsFailed
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// statusCode returns the HTTP status carried by err, zero when there is none.
func statusCode(err error) int {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}
