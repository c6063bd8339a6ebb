package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	log, err := New(&Config{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	require.NoError(t, err)

	log.Info("position opened", zap.String("mint", "abc"))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mint":"abc"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	WithPosition(base, "mint1", "wallet1").Info("tick")
	end := TrackPerformance(base, "sell")
	end()

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "mint1", entries[0].ContextMap()["mint"])
	assert.Equal(t, "sell", entries[2].ContextMap()["operation"])
	assert.Contains(t, entries[2].ContextMap(), "correlation_id")
}

func TestConfigLevel(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    zapcore.Level
		wantErr bool
	}{
		{name: "empty is info", cfg: Config{}, want: zapcore.InfoLevel},
		{name: "empty in development is debug", cfg: Config{Development: true}, want: zapcore.DebugLevel},
		{name: "explicit wins over development", cfg: Config{Level: "WARN", Development: true}, want: zapcore.WarnLevel},
		{name: "unknown", cfg: Config{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.level()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{File: filepath.Join(t.TempDir(), "x.log"), Level: "loud"})
	assert.Error(t, err)
}

func TestWithDefaultsFillsRotation(t *testing.T) {
	c := Config{File: "custom.log", MaxBackups: 9}.withDefaults()
	assert.Equal(t, "custom.log", c.File)
	assert.Equal(t, 9, c.MaxBackups)
	assert.Equal(t, defaultMaxSizeMB, c.MaxSizeMB)
	assert.Equal(t, defaultMaxAgeDays, c.MaxAgeDays)

	assert.Equal(t, defaultFile, Config{}.withDefaults().File)
}
