package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"ERROR", LogLevelError},
		{"warn", LogLevelWarn},
		{"", LogLevelInfo},
		{"DEBUG", LogLevelDebug},
		{" trace ", LogLevelTrace},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.in), tt.in)
	}
}

func TestLoggerWithKeepsLevel(t *testing.T) {
	l := NewLogger(LogLevelDebug, "json")
	child := l.With("mass_gev", 1.5, "flavour", "muon")
	assert.Equal(t, LogLevelDebug, child.GetLevel())

	nop := NewNopLogger()
	nop.Warn("dropped %d rows", 3)
	assert.Equal(t, LogLevelError, nop.GetLevel())
}
