package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	Output      string // stdout, stderr, or file path (appended)
	ErrorOutput string // error channel: stderr, stdout, file path, or "none"
	TimeFormat  string // ISO8601, RFC3339, or custom format
	Host        string // host name stamped on every line; os.Hostname when empty
}

// DefaultConfig returns a default configuration suitable for development
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "console",
		Output:      "stdout",
		ErrorOutput: "stderr",
		TimeFormat:  "2006-01-02T15:04:05.000Z07:00",
	}
}

// Merge returns a copy of c with every non-empty field of override applied
func (c *Config) Merge(override Config) *Config {
	merged := *c
	if override.Level != "" {
		merged.Level = override.Level
	}
	if override.Format != "" {
		merged.Format = override.Format
	}
	if override.Output != "" {
		merged.Output = override.Output
	}
	if override.ErrorOutput != "" {
		merged.ErrorOutput = override.ErrorOutput
	}
	if override.TimeFormat != "" {
		merged.TimeFormat = override.TimeFormat
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	return &merged
}

// New creates a new zap logger with the given configuration.
// Entries go to the line sink at Level and, from ErrorLevel up, also to the
// error channel. Extra cores (e.g. the OpenTelemetry bridge) are teed in.
// Write failures on any sink are discarded.
func New(cfg *Config, extra ...zapcore.Core) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)
	encoder := createEncoder(cfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, createWriter(cfg.Output), level),
	}
	if errWriter := createErrorWriter(cfg.ErrorOutput); errWriter != nil {
		cores = append(cores, zapcore.NewCore(encoder.Clone(), errWriter, zapcore.ErrorLevel))
	}
	cores = append(cores, extra...)

	host := cfg.Host
	if host == "" {
		host, _ = os.Hostname()
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.AddSync(io.Discard)),
		zap.Fields(zap.String("host", host)),
	)

	return logger, nil
}

// parseLevel converts a string level to zapcore.Level
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel is the exported form of parseLevel for wiring extra cores
func ParseLevel(level string) zapcore.Level {
	return parseLevel(level)
}

// createEncoder creates the appropriate encoder based on format
func createEncoder(cfg *Config) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(cfg.TimeFormat),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	return zapcore.NewJSONEncoder(encoderConfig)
}

// createWriter creates the appropriate writer based on output.
// Files are opened for append and guarded by a mutex.
func createWriter(output string) zapcore.WriteSyncer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	default:
		file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Fallback to stdout if file cannot be opened
			return zapcore.Lock(os.Stdout)
		}
		return zapcore.Lock(file)
	}
}

// createErrorWriter returns the error channel writer, nil when disabled
func createErrorWriter(output string) zapcore.WriteSyncer {
	if strings.EqualFold(output, "none") {
		return nil
	}
	if output == "" {
		output = "stderr"
	}
	return createWriter(output)
}

// Sync flushes any buffered log entries
func Sync(logger *zap.Logger) error {
	return logger.Sync()
}
