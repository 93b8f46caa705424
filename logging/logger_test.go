package logging

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/c0deZ3R0/checklist-sync/errors"
)

func TestLogger(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment, AddSource: true},
		{Level: "info", Format: "json", Environment: EnvProduction, AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			logger := NewLogger(config)

			logger.Debug("Debug message", slog.String("key", "value"))
			logger.Info("Info message", slog.Int("count", 42))
			logger.Warn("Warning message", slog.Bool("enabled", true))

			testErr := errors.New(errors.OpStore, fmt.Errorf("storage error"))
			logger.LogError(context.Background(), testErr, "Operation failed")

			childLogger := logger.WithComponent(Component("test"))
			childLogger.Info("Child logger message")

			err := logger.LogOperation(
				context.Background(),
				Operation("test_op"),
				Component("test_component"),
				func() error { return nil },
			)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestLogOperationPropagatesError(t *testing.T) {
	logger := NewLogger(Config{Level: "error", Format: "text", Environment: EnvTest})

	wantErr := errors.NewNetworkError(errors.OpPush, fmt.Errorf("connection reset"))
	err := logger.LogOperation(context.Background(), Operation("push"), Component("engine"), func() error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("LogOperation returned %v, want %v", err, wantErr)
	}
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("ENVIRONMENT", "production")

	config := GetConfigFromEnv()
	if config.Level != "warn" {
		t.Errorf("Level = %q, want warn", config.Level)
	}
	if config.Format != "text" {
		t.Errorf("Format = %q, want text", config.Format)
	}
	if config.AddSource {
		t.Error("AddSource should be disabled in production")
	}
}
