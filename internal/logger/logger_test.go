package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		json, debug bool
		level       zapcore.Level
	}{
		{json: false, debug: false, level: zapcore.InfoLevel},
		{json: true, debug: true, level: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		l, err := New(tt.json, tt.debug)
		if err != nil {
			t.Fatalf("new logger: %v", err)
		}
		if !l.Core().Enabled(tt.level) {
			t.Fatalf("expected level %s to be enabled", tt.level)
		}
		if tt.level == zapcore.InfoLevel && l.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("expected debug to be disabled without the debug flag")
		}
	}
}
