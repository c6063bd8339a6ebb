// internal/utils/logger/logger.go
package logger

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger расширяет zap.Logger файловой ротацией и хелперами контекста.
type Logger struct {
	*zap.Logger
	rotator *lumberjack.Logger
}

// New создаёт логгер: консоль (человекочитаемо) + файл (JSON) с ротацией.
// nil означает конфигурацию по умолчанию.
func New(cfg *Config) (*Logger, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c = c.withDefaults()

	level, err := c.level()
	if err != nil {
		return nil, err
	}
	rotator := c.rotator()

	encoderConfig := zap.NewProductionEncoderConfig()
	if c.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level),
	)

	return &Logger{
		Logger:  zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
		rotator: rotator,
	}, nil
}

// WithOperation создаёт логгер для конкретной операции с correlation_id.
func WithOperation(l *zap.Logger, operation string) *zap.Logger {
	return l.With(
		zap.String("operation", operation),
		zap.String("correlation_id", uuid.New().String()),
	)
}

// WithPosition добавляет контекст позиции.
func WithPosition(l *zap.Logger, mint, wallet string) *zap.Logger {
	return l.With(zap.String("mint", mint), zap.String("wallet", wallet))
}

// WithTransaction добавляет подпись транзакции.
func WithTransaction(l *zap.Logger, signature string) *zap.Logger {
	return l.With(zap.String("tx_signature", signature))
}

// TrackPerformance пишет в debug длительность операции.
func TrackPerformance(l *zap.Logger, operation string) (end func()) {
	start := time.Now()
	opLogger := WithOperation(l, operation)
	opLogger.Debug("Starting operation")

	return func() {
		duration := time.Since(start)
		opLogger.Debug("Operation completed",
			zap.Duration("duration", duration),
			zap.Float64("duration_ms", float64(duration.Microseconds())/1000),
		)
	}
}

// Sync сбрасывает буферы. Ошибки sync для терминала игнорируются.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		err = nil
	}
	return err
}

// Close синхронизирует логгер и закрывает файл ротации.
func (l *Logger) Close() error {
	_ = l.Sync()
	return l.rotator.Close()
}
