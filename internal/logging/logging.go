package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string
	Format string
}

var (
	baseLogger   *zap.Logger
	sugar        *zap.SugaredLogger
	activationID uint64
)

func init() {
	setLogger(zap.NewNop())
}

func InitFromEnv() error {
	cfg := Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
	return Init(cfg)
}

func Init(cfg Config) error {
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "console"
	}

	var zapCfg zap.Config
	switch format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s", cfg.Format)
	}

	atomLevel := zap.NewAtomicLevel()
	if err := atomLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %s", cfg.Level)
	}
	zapCfg.Level = atomLevel

	logger, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	setLogger(logger)
	return nil
}

func setLogger(logger *zap.Logger) {
	baseLogger = logger
	sugar = logger.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}

// Logger returns the process logger for components that keep their own handle.
func Logger() *zap.Logger {
	return baseLogger
}

// Named returns a sugared logger tagged with a component name.
func Named(component string) *zap.SugaredLogger {
	return baseLogger.Sugar().With("component", component)
}

// ForSession returns a sugared logger that stamps every entry with the session id.
func ForSession(sessionID string) *zap.SugaredLogger {
	return baseLogger.Sugar().With("session_id", sessionID)
}

func NewSessionID() string {
	return uuid.NewString()
}

// StartActivation returns a process-wide monotonically increasing activation number.
func StartActivation() uint64 {
	return atomic.AddUint64(&activationID, 1)
}

func Debugf(format string, args ...interface{}) {
	sugar.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	sugar.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	sugar.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	sugar.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	sugar.Fatalf(format, args...)
}
