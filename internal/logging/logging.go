// Package logging provides structured logging for verification runs.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger used when a component is given none
var Logger *zap.Logger

// Config contains logging configuration
type Config struct {
	// Level is the minimum log level
	Level string `json:"level" mapstructure:"level"`

	// Format is the output format (json, console). Log files always get json.
	Format string `json:"format" mapstructure:"format"`

	// Output is the output destination (stdout, stderr, file path)
	Output string `json:"output" mapstructure:"output"`

	// Development enables development mode
	Development bool `json:"development" mapstructure:"development"`
}

// DefaultConfig logs info and above to stderr. Stdout is left to the
// rendered views.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// New builds a logger from cfg without touching the global instance
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	sink, toFile, err := openSink(cfg.Output)
	if err != nil {
		return nil, err
	}

	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") && !toFile {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	} else {
		encoder = zapcore.NewJSONEncoder(ec)
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewCore(encoder, sink, level), opts...), nil
}

func openSink(output string) (zapcore.WriteSyncer, bool, error) {
	switch output {
	case "stdout":
		return zapcore.Lock(os.Stdout), false, nil
	case "stderr", "":
		return zapcore.Lock(os.Stderr), false, nil
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, false, err
	}
	return zapcore.AddSync(f), true, nil
}

// Initialize replaces the global logger
func Initialize(cfg Config) error {
	logger, err := New(cfg)
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

// OrGlobal returns l, or the global logger when l is nil.
// Components take an optional *zap.Logger and resolve it through here.
func OrGlobal(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return Logger
}

// ForRun scopes base to one verification run. Empty bill ids and
// hospitals are left out.
func ForRun(base *zap.Logger, runID, billID, hospital string) *zap.Logger {
	fields := []zap.Field{RunID(runID)}
	if billID != "" {
		fields = append(fields, zap.String("bill_id", billID))
	}
	if hospital != "" {
		fields = append(fields, zap.String("hospital", hospital))
	}
	return OrGlobal(base).With(fields...)
}

// RunID is the run id field
func RunID(id string) zap.Field { return zap.String("run_id", id) }

// Item is the bill line field
func Item(key string) zap.Field { return zap.String("item", key) }

// Category is the catalog category field
func Category(name string) zap.Field { return zap.String("category", name) }

// Sync flushes the logger
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Warn logs at warn level on the global logger
func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

func init() {
	Logger, _ = New(DefaultConfig())
}
