package chain

import (
	"strconv"
	"time"

	"github.com/spigell/hh-analyzer/internal/metrics"
)

// Monitor records chain and step timings.
type Monitor struct {
	metrics metrics.Recorder
}

func NewMonitor(recorder metrics.Recorder) *Monitor {
	return &Monitor{metrics: metrics.OrNop(recorder)}
}

func (m *Monitor) observeStep(chainID, stepID string, so StepOutcome, err error, d time.Duration) {
	result := "continued"
	switch {
	case err != nil:
		result = "failed"
	case !so.Continue:
		result = "stopped"
	}

	m.metrics.IncCounter("chain_steps_total", map[string]string{
		"chain":  chainID,
		"step":   stepID,
		"result": result,
		"cached": strconv.FormatBool(so.Cached),
	}, 1)
	if !so.Cached {
		m.metrics.ObserveDuration("chain_step", map[string]string{"chain": chainID, "step": stepID}, d)
	}
}

func (m *Monitor) observeRun(o Outcome) {
	result := "completed"
	switch {
	case !o.Success:
		result = "failed"
	case o.Stopped():
		result = "stopped"
	}

	m.metrics.IncCounter("chain_runs_total", map[string]string{"chain": o.ChainID, "result": result}, 1)
	m.metrics.ObserveDuration("chain_run", map[string]string{"chain": o.ChainID}, o.Duration)
}
