package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"btlabel/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LoggingConfig
		level zapcore.Level
	}{
		{"console info", config.LoggingConfig{Level: "info", Format: "console"}, zapcore.InfoLevel},
		{"json debug", config.LoggingConfig{Level: "debug", Format: "json"}, zapcore.DebugLevel},
		{"default format", config.LoggingConfig{Level: "warn"}, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.level))
			assert.False(t, logger.Core().Enabled(tt.level-1))
		})
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "console"})
	assert.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
