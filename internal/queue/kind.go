package queue

import (
	"fmt"
	"strings"
)

// Kind identifies a queue. Chain kinds carry the chain id after the prefix.
type Kind string

const (
	KindUpdate        Kind = "UPDATE"
	KindAnalysisFirst Kind = "ANALYSIS_FIRST"
	KindAnalysisFull  Kind = "ANALYSIS_FULL"

	chainPrefix = "CHAIN:"
)

// ChainKind returns the queue kind running the given chain.
func ChainKind(chainID string) Kind {
	return Kind(chainPrefix + strings.ToUpper(strings.TrimSpace(chainID)))
}

// ParseKind validates a queue kind.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	switch k := Kind(strings.ToUpper(s)); k {
	case KindUpdate, KindAnalysisFirst, KindAnalysisFull:
		return k, nil
	}

	if len(s) > len(chainPrefix) && strings.EqualFold(s[:len(chainPrefix)], chainPrefix) {
		return ChainKind(s[len(chainPrefix):]), nil
	}

	return "", fmt.Errorf("unknown queue kind: %q", s)
}

// Chain returns the chain id of a chain kind.
func (k Kind) Chain() (string, bool) {
	if !strings.HasPrefix(string(k), chainPrefix) {
		return "", false
	}
	return string(k)[len(chainPrefix):], true
}

func (k Kind) String() string {
	return string(k)
}

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var pendingStatuses = []string{string(StatusNew), string(StatusProcessing)}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusNew, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown queue status: %q", s)
	}
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusNew, StatusProcessing:
		return false
	default:
		return false
	}
}
