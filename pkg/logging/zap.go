package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapConfig configures the zap backend.
type ZapConfig struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output string // stdout, stderr or an absolute file path

	// Rotation settings, only used for file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConsoleConfig logs human readable lines to stderr, leaving stdout
// to status output.
func DefaultConsoleConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// DefaultFileConfig logs JSON records to path with rotation.
func DefaultFileConfig(path string) ZapConfig {
	return ZapConfig{
		Level:      "debug",
		Format:     "json",
		Output:     path,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// ZapLogger implements Logger on top of a sugared zap logger.
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	closer func() error
}

func NewZapLogger(config ZapConfig) (*ZapLogger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	closer := func() error { return nil }

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout":
		writeSyncer = zapcore.Lock(os.Stdout)
	case "stderr", "":
		writeSyncer = zapcore.Lock(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(config.Output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		writeSyncer = zapcore.AddSync(rotating)
		closer = rotating.Close
	}

	zapLogger := zap.New(zapcore.NewCore(encoder, writeSyncer, level))

	return &ZapLogger{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
		closer: closer,
	}, nil
}

func (z *ZapLogger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelInfo:
		z.sugar.Infof(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	default:
		z.sugar.Errorf(format, args...)
	}
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key/value pairs.
func (z *ZapLogger) With(keysAndValues ...interface{}) *ZapLogger {
	sugar := z.sugar.With(keysAndValues...)
	return &ZapLogger{
		logger: sugar.Desugar(),
		sugar:  sugar,
		closer: func() error { return nil },
	}
}

// Close flushes buffered entries and releases the output file, if any.
func (z *ZapLogger) Close() error {
	_ = z.logger.Sync()
	return z.closer()
}
