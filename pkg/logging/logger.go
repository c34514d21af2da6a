package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulseboard/pulse/pkg/config"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// InitLogger initializes the global logger with the given configuration
func InitLogger(cfg *config.LoggingConfig) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Format == "text" {
		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(level)
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		built, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		if err != nil {
			return err
		}
		SetLogger(built)
		return nil
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if cfg.FlatFormat {
		encoderConfig := zapConfig.EncoderConfig
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.MessageKey = "message"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

		SetLogger(zap.New(
			zapcore.NewCore(NewFlatEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		))
		return nil
	}

	built, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	SetLogger(built)
	return nil
}

// SetLogger replaces the global logger. Tests use it with zap.NewNop or an observer core.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// WithComponent adds component name to logger
func WithComponent(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}

// WithTraceID adds trace ID to logger
func WithTraceID(traceID string) *zap.Logger {
	return GetLogger().With(zap.String("trace_id", traceID))
}

// Actor is the zap field used wherever an actor id is logged
func Actor(id string) zap.Field {
	if id == "" {
		return zap.String("actor", "anonymous")
	}
	return zap.String("actor", id)
}
