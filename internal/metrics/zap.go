package metrics

import (
	"time"

	"go.uber.org/zap"
)

// Logged writes every measurement as a debug entry.
type Logged struct {
	logger *zap.Logger
}

func NewLogged(logger *zap.Logger) *Logged {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logged{logger: logger.Named("metrics")}
}

func (l *Logged) IncCounter(name string, labels map[string]string, delta float64) {
	l.logger.Debug("counter", zap.String("metric", name), zap.Any("labels", labels), zap.Float64("delta", delta))
}

func (l *Logged) SetGauge(name string, labels map[string]string, value float64) {
	l.logger.Debug("gauge", zap.String("metric", name), zap.Any("labels", labels), zap.Float64("value", value))
}

func (l *Logged) ObserveDuration(name string, labels map[string]string, d time.Duration) {
	l.logger.Debug("duration", zap.String("metric", name), zap.Any("labels", labels), zap.Duration("took", d))
}

// Tee fans measurements out to several recorders.
type Tee []Recorder

func (t Tee) IncCounter(name string, labels map[string]string, delta float64) {
	for _, r := range t {
		r.IncCounter(name, labels, delta)
	}
}

func (t Tee) SetGauge(name string, labels map[string]string, value float64) {
	for _, r := range t {
		r.SetGauge(name, labels, value)
	}
}

func (t Tee) ObserveDuration(name string, labels map[string]string, d time.Duration) {
	for _, r := range t {
		r.ObserveDuration(name, labels, d)
	}
}
