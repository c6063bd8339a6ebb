package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config описывает вывод логов: уровень и файл JSON с ротацией.
// Нулевые поля заполняются значениями по умолчанию.
type Config struct {
	File       string
	Level      string // debug|info|warn|error, пусто = info (debug в Development)
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
	// Development включает development-энкодер и debug по умолчанию.
	Development bool
}

const (
	defaultFile       = "exit-engine.log"
	defaultMaxSizeMB  = 100
	defaultMaxAgeDays = 7
	defaultMaxBackups = 3
)

func (c Config) withDefaults() Config {
	if c.File == "" {
		c.File = defaultFile
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = defaultMaxSizeMB
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = defaultMaxAgeDays
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = defaultMaxBackups
	}
	return c
}

// level разбирает уровень. Пустое значение зависит от Development.
func (c Config) level() (zapcore.Level, error) {
	name := strings.TrimSpace(c.Level)
	if name == "" {
		if c.Development {
			return zapcore.DebugLevel, nil
		}
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(name))
	if err != nil {
		return lvl, fmt.Errorf("logging level %q: %w", c.Level, err)
	}
	return lvl, nil
}

func (c Config) rotator() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	}
}
