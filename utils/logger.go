package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger создает JSON-логгер zap. Если logFile задан, записи дублируются в файл.
func NewLogger(service, env, logFile string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if logFile != "" {
		if err := ensureLogFile(logFile); err != nil {
			return nil, fmt.Errorf("не удалось подготовить файл логов: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, logFile)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logFile)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.InitialFields = map[string]any{
		"service": service,
		"env":     env,
	}

	return cfg.Build()
}

func ensureLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

type loggerKey struct{}

// ContextWithLogger сохраняет логгер запроса в контексте
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext достает логгер из контекста, по умолчанию zap.L()
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.L()
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.L()
}

// LogOperation логирует операцию с длительностью
func LogOperation(ctx context.Context, operation string, startTime time.Time, err error) {
	logger := LoggerFromContext(ctx)
	duration := time.Since(startTime)
	if err != nil {
		logger.Warn("operation failed",
			zap.String("operation", operation),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}
	logger.Debug("operation completed",
		zap.String("operation", operation),
		zap.Duration("duration", duration),
	)
}
