package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		debug     bool
		debugLogs bool
	}{
		{debug: true, debugLogs: true},
		{debug: false, debugLogs: false},
	}
	for _, tt := range tests {
		logger, err := NewLogger(tt.debug)
		if err != nil {
			t.Fatalf("NewLogger(%v) error: %v", tt.debug, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.debugLogs {
			t.Errorf("NewLogger(%v): debug enabled = %v, want %v", tt.debug, got, tt.debugLogs)
		}
		_ = logger.Sync()
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l, _ := NewLogger(true)
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
